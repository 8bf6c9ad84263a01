package form

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
)

// parseMultipart reads the text parts of a multipart/form-data body in
// order. File uploads are skipped; the relay does not forward attachments.
func parseMultipart(body io.Reader, boundary string, maxBytes int64) (*Submission, error) {
	sub := &Submission{}
	reader := multipart.NewReader(body, boundary)

	var total int64
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart section: %w", err)
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		if part.FileName() != "" {
			slog.Debug("skipping file upload in form submission",
				"field", name,
				"filename", part.FileName(),
			)
			part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read field %q: %w", name, err)
		}
		total += int64(len(data))
		if total > maxBytes {
			return nil, fmt.Errorf("form fields exceed %d bytes", maxBytes)
		}
		if len(data) == 0 {
			continue
		}
		sub.Add(name, string(data))
	}
	return sub, nil
}
