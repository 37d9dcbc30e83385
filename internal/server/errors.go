package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KohakuBlueleaf/DIG/internal/artifact"
	"github.com/KohakuBlueleaf/DIG/internal/storage"
)

// detail writes the error payload shape workers and requestors parse:
// {"detail": "..."}.
func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

// storeError maps store and sink sentinels onto the wire contract. Anything
// unrecognized is an internal failure.
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		detail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNoPending):
		detail(c, http.StatusNotFound, "no pending tasks")
	case errors.Is(err, storage.ErrContended):
		detail(c, http.StatusConflict, "task claim contended, retry")
	case errors.Is(err, storage.ErrBadState):
		detail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, artifact.ErrBadImage):
		detail(c, http.StatusBadRequest, err.Error())
	default:
		detail(c, http.StatusInternalServerError, err.Error())
	}
}
