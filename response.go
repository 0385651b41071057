package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/mri-vision/tumor-detection-service/detections"
	"github.com/mri-vision/tumor-detection-service/logger"
	"github.com/mri-vision/tumor-detection-service/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	statusSuccess = "success"
	statusError   = "error"
)

type PredictionResponse struct {
	Status string `json:"status"`
	models.Summary
	Message        string `json:"message"`
	AnnotatedImage string `json:"annotated_image,omitempty"`
	Cached         bool   `json:"cached"`
	RequestID      string `json:"request_id,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Status:  statusError,
		Code:    code,
		Message: message,
	})
}

// sendPipelineError writes the response chosen by errorResponseFor.
func (s *AppState) sendPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := s.errorResponseFor(r.Context(), r.URL.Path, err)
	writeJSON(w, status, resp)
}

// errorResponseFor maps an error kind to its status code. Unexpected failures get a
// trace id so the client can quote it.
func (s *AppState) errorResponseFor(ctx context.Context, path string, err error) (int, ErrorResponse) {
	resp := ErrorResponse{Status: statusError, Message: err.Error()}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		resp.Code = reqErr.code
		return reqErr.status, resp
	}

	switch detections.KindOf(err) {
	case detections.KindInvalidInput:
		if detections.IsTooLarge(err) {
			resp.Code = "payload_too_large"
			return http.StatusRequestEntityTooLarge, resp
		}
		resp.Code = string(detections.KindInvalidInput)
		return http.StatusBadRequest, resp
	case detections.KindServiceUnavailable:
		resp.Code = string(detections.KindServiceUnavailable)
		return http.StatusServiceUnavailable, resp
	case detections.KindInference:
		resp.Code = string(detections.KindInference)
		resp.TraceID = logger.ErrorWithTraceID(s.Log, logrus.Fields{
			logger.RequestIDKey: logger.RequestID(ctx),
			"path":              path,
		}, "Inference failed")
		return http.StatusInternalServerError, resp
	default:
		resp.Code = "internal_error"
		resp.Message = "Internal server error. Please check logs."
		resp.TraceID = logger.ErrorWithTraceID(s.Log, logrus.Fields{
			logger.RequestIDKey: logger.RequestID(ctx),
			"path":              path,
			"error":             err.Error(),
		}, "Unexpected error")
		if s.Config.Debug {
			resp.Details = err.Error()
		}
		return http.StatusInternalServerError, resp
	}
}
