package msgbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// The message schemas are fixed tagged variants. Decoders reject unknown
// fields and check required ones explicitly rather than relying on
// optional-field fallthrough.

// CaptureRequest asks the detector to capture the main product image of a
// page. The response is a candidate.CaptureResult.
type CaptureRequest struct {
	URL string `json:"url"`
}

// Validate checks required fields.
func (r CaptureRequest) Validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	return nil
}

// FetchImageRequest asks the background fetch service for the bytes of an
// image URL, encoded as a data URL.
type FetchImageRequest struct {
	URL string `json:"url"`
}

// Validate checks required fields.
func (r FetchImageRequest) Validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	return nil
}

// FetchImageResponse is the fetch service's answer. Fetch failures are a
// normal response with OK=false, not a protocol error.
type FetchImageResponse struct {
	OK      bool   `json:"ok"`
	DataURL string `json:"dataUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DetectedNotice is the fire-and-forget announcement broadcast when a
// frame's current candidate changes.
type DetectedNotice struct {
	ImageURL      string `json:"imageUrl"`
	Frame         string `json:"frame"`
	Origin        string `json:"origin"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`
}

// DecodeCaptureRequest parses and validates a CAPTURE_PRODUCT_IMAGE payload.
func DecodeCaptureRequest(raw json.RawMessage) (CaptureRequest, error) {
	var req CaptureRequest
	if err := decodeStrict(raw, &req); err != nil {
		return req, &InvalidPayloadError{Type: TypeCaptureProductImage, Cause: err}
	}
	if err := req.Validate(); err != nil {
		return req, &InvalidPayloadError{Type: TypeCaptureProductImage, Cause: err}
	}
	return req, nil
}

// DecodeFetchImageRequest parses and validates a FETCH_IMAGE_AS_DATA_URL
// payload.
func DecodeFetchImageRequest(raw json.RawMessage) (FetchImageRequest, error) {
	var req FetchImageRequest
	if err := decodeStrict(raw, &req); err != nil {
		return req, &InvalidPayloadError{Type: TypeFetchImageAsDataURL, Cause: err}
	}
	if err := req.Validate(); err != nil {
		return req, &InvalidPayloadError{Type: TypeFetchImageAsDataURL, Cause: err}
	}
	return req, nil
}

// DecodeFetchImageResponse parses a fetch service response.
func DecodeFetchImageResponse(raw json.RawMessage) (FetchImageResponse, error) {
	var resp FetchImageResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return resp, &InvalidPayloadError{Type: TypeFetchImageAsDataURL, Cause: err}
	}
	if !resp.OK && resp.DataURL != "" {
		return resp, &InvalidPayloadError{
			Type:  TypeFetchImageAsDataURL,
			Cause: errors.New("dataUrl present on a failed response"),
		}
	}
	return resp, nil
}

// DecodeDetectedNotice parses and validates a PRODUCT_IMAGE_DETECTED payload.
func DecodeDetectedNotice(raw json.RawMessage) (DetectedNotice, error) {
	var n DetectedNotice
	if err := decodeStrict(raw, &n); err != nil {
		return n, &InvalidPayloadError{Type: TypeProductImageDetected, Cause: err}
	}
	if n.ImageURL == "" {
		return n, &InvalidPayloadError{
			Type:  TypeProductImageDetected,
			Cause: errors.New("imageUrl is required"),
		}
	}
	return n, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
