package api

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/platformbuilds/authz-core/internal/models"
)

// Struct-level validation for check payloads, on top of the field tags.
// Action and scope vocabularies are open for custom resources but the core
// values must be spelled exactly.
func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(models.CheckRequest)
		if !req.Action.IsValid() {
			sl.ReportError(req.Action, "action", "Action", "action", "")
		}
		if req.Scope != "" && !req.Scope.IsValid() {
			sl.ReportError(req.Scope, "scope", "Scope", "scope", "")
		}
	}, models.CheckRequest{})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		triple := sl.Current().Interface().(models.CheckTriple)
		if !triple.Action.IsValid() {
			sl.ReportError(triple.Action, "action", "Action", "action", "")
		}
		if triple.Scope != "" && !triple.Scope.IsValid() {
			sl.ReportError(triple.Scope, "scope", "Scope", "scope", "")
		}
	}, models.CheckTriple{})
}
