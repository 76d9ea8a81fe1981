package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/internal/storage"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

const (
	// maxImagesPerRequest caps the number of files in one upload request.
	maxImagesPerRequest = 10

	// maxMultipartMemory is held in memory; larger parts spill to temp files.
	maxMultipartMemory = 16 << 20

	maxJSONBody = 1 << 20

	sniffLen = 512
)

// uploadForm is a parsed multipart request. Close releases the opened files
// and any temporary files the parser created.
type uploadForm struct {
	form  *multipart.Form
	files []storage.File
	open  []multipart.File
}

func (u *uploadForm) value(name string) string {
	if vs := u.form.Value[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (u *uploadForm) Close() {
	for _, f := range u.open {
		_ = f.Close()
	}
	_ = u.form.RemoveAll()
}

// parseUploadForm reads a multipart body carrying image files under the
// "images" field. Each file's content type is sniffed from its first bytes
// rather than trusted from the part header.
func parseUploadForm(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	limit := int64(maxImagesPerRequest*service.MaxImageSize + maxJSONBody)
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("request body exceeds %d bytes", limit))
		}
		return nil, apperrors.InvalidInput("expected a multipart/form-data body: " + err.Error())
	}

	u := &uploadForm{form: r.MultipartForm}
	headers := r.MultipartForm.File["images"]
	if len(headers) > maxImagesPerRequest {
		u.Close()
		return nil, apperrors.InvalidField("images", fmt.Sprintf("accepts at most %d files", maxImagesPerRequest))
	}

	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		u.open = append(u.open, f)

		contentType, err := sniffContentType(f, fh.Header.Get("Content-Type"))
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		u.files = append(u.files, storage.File{
			Name:        fh.Filename,
			ContentType: contentType,
			Size:        fh.Size,
			Data:        f,
		})
	}
	return u, nil
}

func sniffContentType(f multipart.File, declared string) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	sniffed := http.DetectContentType(head[:n])
	if sniffed == "application/octet-stream" && declared != "" {
		return strings.ToLower(declared), nil
	}
	ct, _, _ := strings.Cut(sniffed, ";")
	return ct, nil
}

// decodeField unmarshals the JSON carried in a form field. An empty field
// leaves dst untouched.
func decodeField(raw, field string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidField(field, "is not valid JSON: "+err.Error())
	}
	return nil
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidInput("invalid request body: " + err.Error())
	}
	return nil
}
