// Package areaclient is the HTTP implementation of detection.Client against
// the tree-crown analyzer service.
package areaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/priyanshukr01/EcoSap/internal/detection"
)

// DetectTimeout bounds a single call to the area service. The service runs a
// segmentation model, so it is allowed to be slow but not unbounded.
const DetectTimeout = 30 * time.Second

// Client talks to the area service over multipart HTTP. It performs exactly
// one attempt per Detect call; retry policy belongs to the caller.
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a client for the area service at serviceURL.
func New(serviceURL string, logger *zap.Logger) *Client {
	return &Client{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: DetectTimeout},
		logger:     logger.Named("areaclient"),
	}
}

// remoteError is the error body the area service returns on failures.
type remoteError struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Details string `json:"details"`
}

func (e remoteError) message() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Detail != "":
		return e.Detail
	default:
		return e.Details
	}
}

// Detect sends the image and GSD to the area service and returns its verdict.
// Input problems are rejected before any network attempt; transport problems
// come back as a classified detection.Error.
func (c *Client) Detect(ctx context.Context, image []byte, mediaType, filename string, gsd float64) (*detection.Result, error) {
	if len(image) == 0 {
		return nil, detection.NewError(detection.KindInvalidInput, "image required", nil)
	}
	if gsd <= 0 || math.IsInf(gsd, 0) || math.IsNaN(gsd) {
		return nil, detection.NewError(detection.KindInvalidInput, "gsd must be positive", nil)
	}
	if filename == "" {
		filename = "image.jpg"
	}

	body, contentType, err := encodeRequest(image, mediaType, filename, gsd)
	if err != nil {
		return nil, detection.NewError(detection.KindInvalidInput, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, body)
	if err != nil {
		return nil, detection.NewError(detection.KindInvalidInput, "failed to build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		c.logger.Error("area service call failed",
			zap.String("url", c.serviceURL),
			zap.Error(classified))
		return nil, classified
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, detection.NewError(detection.KindMalformedResponse, "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		var remote remoteError
		if err := json.Unmarshal(payload, &remote); err == nil && remote.message() != "" {
			return nil, detection.NewError(detection.KindRemoteError, remote.message(), nil)
		}
		return nil, detection.NewError(detection.KindRemoteError, strings.TrimSpace(string(payload)), nil)
	}

	var result detection.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Error("area service returned unparseable body", zap.Error(err))
		return nil, detection.NewError(detection.KindMalformedResponse, "response does not match detection contract", err)
	}

	return &result, nil
}

// encodeRequest builds the multipart body the service expects: the image
// bytes under field "file" and the GSD as a string under field "gsd".
func encodeRequest(image []byte, mediaType, filename string, gsd float64) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if mediaType != "" {
		header.Set("Content-Type", mediaType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}

	if err := writer.WriteField("gsd", strconv.FormatFloat(gsd, 'f', -1, 64)); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// classifyTransportError separates "service down" from "service too slow".
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return detection.NewError(detection.KindTimeout, "area calculation took too long", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return detection.NewError(detection.KindTimeout, "area calculation took too long", err)
	}

	return detection.NewError(detection.KindServiceUnavailable, "area calculation service is unavailable", err)
}
