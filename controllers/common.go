package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"

	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

// RegisterValidators adds the custom binding tags used by request payloads.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("notblank", validators.NotBlank)
}

// respondError maps a service error onto the JSON envelope. Internal errors are logged
// and never leak their text.
func respondError(ctx *gin.Context, err error) {
	switch services.KindOf(err) {
	case services.KindUnauthorized:
		utils.Error(ctx, http.StatusForbidden, 40300, services.Message(err))
	case services.KindNotFound:
		utils.Error(ctx, http.StatusNotFound, 40400, services.Message(err))
	case services.KindValidation:
		utils.Error(ctx, http.StatusBadRequest, 40000, services.Message(err))
	case services.KindInvalidState:
		utils.Error(ctx, http.StatusConflict, 40901, services.Message(err))
	case services.KindConflict:
		utils.Error(ctx, http.StatusConflict, 40900, services.Message(err))
	default:
		utils.Logger.Error("request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("request_id", ctx.GetString(middleware.ContextRequestIDKey)),
			zap.Error(err),
		)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
	}
}

func bindError(ctx *gin.Context, err error) {
	utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload: "+err.Error())
}

// paramID parses a positive numeric path parameter. It writes the error response itself.
func paramID(ctx *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || n == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

// queryID parses an optional numeric query parameter. Missing means 0.
func queryID(ctx *gin.Context, name string) (uint, bool) {
	v := strings.TrimSpace(ctx.Query(name))
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

func pagination(ctx *gin.Context) services.Pagination {
	page, _ := strconv.Atoi(strings.TrimSpace(ctx.Query("page")))
	pageSize, _ := strconv.Atoi(strings.TrimSpace(ctx.Query("page_size")))
	return services.NewPagination(page, pageSize)
}
