package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	imageFormKey      = "image"
	multipartOverhead = 1 << 20
)

// requestError is a rejection decided before the image reaches the pipeline.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

var (
	errNoImage = &requestError{
		status:  http.StatusBadRequest,
		code:    "missing_image",
		message: "No image file provided. Use key 'image' in form-data.",
	}
	errNoFilename = &requestError{
		status:  http.StatusBadRequest,
		code:    "missing_image",
		message: "No image file selected.",
	}
	errPayloadTooLarge = &requestError{
		status:  http.StatusRequestEntityTooLarge,
		code:    "payload_too_large",
		message: "Request payload too large",
	}
)

// uploadedImage is the raw file plus the extension the client declared, if any.
type uploadedImage struct {
	data     []byte
	filename string
	ext      string
}

func readImage(w http.ResponseWriter, r *http.Request, maxBytes int64) (*uploadedImage, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		img *uploadedImage
		err error
	)
	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
		img, err = handleMultipartRequest(r, maxBytes)
	case "application/json":
		r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit(maxBytes))
		img, err = handleJSONRequest(r)
	default:
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
		img, err = handleRawRequest(r, mediaType)
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, errPayloadTooLarge
	}
	return img, err
}

// jsonBodyLimit leaves room for a base64 image of maxBytes plus the data URL prefix and
// the other fields.
func jsonBodyLimit(maxBytes int64) int64 {
	return int64(base64.StdEncoding.EncodedLen(int(maxBytes))) + multipartOverhead
}

func handleMultipartRequest(r *http.Request, maxBytes int64) (*uploadedImage, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, &requestError{http.StatusBadRequest, "invalid_request", fmt.Sprintf("Malformed form data: %v", err)}
	}

	file, header, err := r.FormFile(imageFormKey)
	if err != nil {
		return nil, errNoImage
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, errNoFilename
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	return &uploadedImage{
		data:     data,
		filename: header.Filename,
		ext:      extensionOf(header.Filename),
	}, nil
}

func handleJSONRequest(r *http.Request) (*uploadedImage, error) {
	var req struct {
		Image    string `json:"image"`
		Filename string `json:"filename"`
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &requestError{http.StatusBadRequest, "invalid_request", "Request body is not valid JSON"}
	}
	if req.Image == "" {
		return nil, errNoImage
	}

	encoded := req.Image
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &requestError{http.StatusBadRequest, "invalid_request", "Field 'image' is not valid base64"}
	}

	return &uploadedImage{
		data:     data,
		filename: req.Filename,
		ext:      extensionOf(req.Filename),
	}, nil
}

func handleRawRequest(r *http.Request, mediaType string) (*uploadedImage, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	filename := r.Header.Get("X-Filename")
	ext := extensionOf(filename)
	if ext == "" && strings.HasPrefix(mediaType, "image/") {
		ext = strings.TrimPrefix(mediaType, "image/")
	}

	return &uploadedImage{data: data, filename: filename, ext: ext}, nil
}

func extensionOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
