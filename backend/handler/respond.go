package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
)

// statusFor maps a failure class to its HTTP status.
func statusFor(class service.Class) int {
	switch class {
	case service.ClassValidation:
		return http.StatusBadRequest
	case service.ClassNotFound:
		return http.StatusNotFound
	case service.ClassCalculation:
		return http.StatusUnprocessableEntity
	case service.ClassLedgerReadLag:
		return http.StatusServiceUnavailable
	case service.ClassLedgerWrite, service.ClassAdapterPayment:
		return http.StatusBadGateway
	case service.ClassReconciliation:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respond(c *gin.Context, status int, data any, err error) {
	env := service.Result(c.Request.Context(), data, err)
	if err != nil {
		status = statusFor(env.Class)
	}
	c.JSON(status, env)
}

// respondCount reports how many items were written, also when the batch
// stopped early.
func respondCount(c *gin.Context, n int, err error) {
	status := http.StatusOK
	env := service.Result(c.Request.Context(), gin.H{"count": n}, err)
	if err != nil {
		status = statusFor(env.Class)
		env.Data = gin.H{"count": n}
	}
	c.JSON(status, env)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, service.Envelope{
		Status:  service.StatusError,
		Message: msg,
		Class:   service.ClassValidation,
	})
}

// contractParams reads :type and :idx. It writes the error response itself
// and reports false when the path is invalid.
func contractParams(c *gin.Context) (model.Kind, int, bool) {
	kind, err := model.ParseKind(c.Param("type"))
	if err != nil {
		badRequest(c, err.Error())
		return "", 0, false
	}
	idx, ok := intParam(c, "idx")
	if !ok {
		return "", 0, false
	}
	return kind, idx, true
}

func kindParam(c *gin.Context) (model.Kind, bool) {
	kind, err := model.ParseKind(c.Param("type"))
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return kind, true
}

func intParam(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 0 {
		badRequest(c, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return n, true
}

// decodeJSON decodes with UseNumber so amounts never pass through float64.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func bindObject(c *gin.Context) (map[string]any, bool) {
	var in map[string]any
	if err := decodeJSON(c.Request.Body, &in); err != nil || in == nil {
		badRequest(c, "Request body must be a JSON object")
		return nil, false
	}
	return in, true
}

// bindList accepts a JSON array of objects, or a single object as a list of
// one.
func bindList(c *gin.Context) ([]map[string]any, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "Failed to read request body")
		return nil, false
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var one map[string]any
		if err := decodeJSON(bytes.NewReader(body), &one); err != nil {
			badRequest(c, "Request body must be a JSON array of objects")
			return nil, false
		}
		return []map[string]any{one}, true
	}
	var items []map[string]any
	if err := decodeJSON(bytes.NewReader(body), &items); err != nil {
		badRequest(c, "Request body must be a JSON array of objects")
		return nil, false
	}
	if len(items) == 0 {
		badRequest(c, "At least one item is required")
		return nil, false
	}
	return items, true
}
