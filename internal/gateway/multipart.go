package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Field is one text part of a multipart request.
type Field struct {
	Name  string
	Value string
}

// FilePart is the single binary part of a multipart request.
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes text fields first and the binary part last. The writer picks a
// random boundary.
func encodeMultipart(fields []Field, file *FilePart) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range fields {
		if field.Name == "" {
			return nil, "", errors.New("gateway: multipart field name is required")
		}
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return nil, "", fmt.Errorf("gateway: write field %s: %w", field.Name, err)
		}
	}
	if file != nil {
		if file.FieldName == "" {
			return nil, "", errors.New("gateway: multipart file field name is required")
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fileName := file.FileName
		if fileName == "" {
			fileName = file.FieldName
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(file.FieldName), quoteEscaper.Replace(fileName)))
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("gateway: create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("gateway: write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("gateway: close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
