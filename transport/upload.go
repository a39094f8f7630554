package transport

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/agentstream/session"
)

// UploadFile uploads raw file bytes for a conversation and returns the
// attachment descriptor. The attachment exists before its owning message
// does; the server links it to the message once the message is created.
func (c *Client) UploadFile(ctx context.Context, convID int64, name string, r io.Reader) (*session.Attachment, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "agentstream.UploadFile",
		trace.WithAttributes(attribute.Int64("conversation.id", convID)))
	defer span.End()

	// Stream the multipart body through a pipe so large files never sit in
	// memory twice.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreatePart(fileHeader(name))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	path := fmt.Sprintf("/api/conversations/%d/files", convID)
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err := checkStatus(resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	var att session.Attachment
	if err := decodeJSON(resp.Body, &att); err != nil {
		return nil, fmt.Errorf("decode upload response for %s: %w", name, err)
	}
	return &att, nil
}

// UploadFiles uploads local files concurrently and returns their attachment
// descriptors in input order. The first failure cancels the remaining
// uploads and is returned; partial results are discarded.
func (c *Client) UploadFiles(ctx context.Context, convID int64, paths []string) ([]session.Attachment, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	results := make([]session.Attachment, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open attachment: %w", err)
			}
			defer f.Close()

			att, err := c.UploadFile(gctx, convID, filepath.Base(path), f)
			if err != nil {
				return err
			}
			results[i] = *att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fileHeader builds the multipart part header for an upload, with the MIME
// type derived from the file extension.
func fileHeader(name string) textproto.MIMEHeader {
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", contentType)
	return h
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, `\"`).Replace(s)
}
