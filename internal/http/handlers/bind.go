package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// BindJSON decodes and validates the request body into out. On failure it writes the error
// envelope (413 when the body limit tripped, 400 otherwise) and returns false.
func BindJSON(ctx *gin.Context, out any) bool {
	err := ctx.ShouldBindJSON(out)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(ctx, http.StatusRequestEntityTooLarge, "request_too_large",
			"Request body too large", gin.H{"limitBytes": tooLarge.Limit})
		return false
	}

	RespondBadRequest(ctx, "Invalid request body", bindErrorDetails(err, out))
	return false
}

func bindErrorDetails(err error, out any) gin.H {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		root := structType(out)
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   jsonFieldPath(root, fe.StructNamespace()),
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: ruleMessage(fe),
			})
		}
		return gin.H{"fields": fields}
	}

	if errors.Is(err, io.EOF) {
		return gin.H{"json": "empty_body"}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return gin.H{"json": "invalid_json_syntax", "offset": syntaxErr.Offset}
	}

	// Field already holds the dotted path of json keys.
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := strings.TrimSpace(typeErr.Field)
		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{{
				Field:   field,
				Rule:    "type",
				Message: "must be of type " + typeErr.Type.String(),
			}},
		}
	}

	return gin.H{"reason": err.Error()}
}

func structType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

// jsonFieldPath turns a validator namespace such as "BulkDeleteRequest.UserIDs[1]" into
// the client's spelling, "userIds[1]".
func jsonFieldPath(root reflect.Type, namespace string) string {
	parts := strings.Split(namespace, ".")
	if root != nil && len(parts) > 1 && parts[0] == root.Name() {
		parts = parts[1:]
	}

	cur := root
	for i, part := range parts {
		name, index, _ := strings.Cut(part, "[")
		if index != "" {
			index = "[" + index
		}

		var next reflect.Type
		if cur != nil && cur.Kind() == reflect.Struct {
			if sf, ok := cur.FieldByName(name); ok {
				name = jsonName(sf)
				next = elemType(sf.Type)
			}
		}
		parts[i] = name + index
		cur = next
	}
	return strings.Join(parts, ".")
}

func jsonName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

func elemType(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
		default:
			return t
		}
	}
}

func ruleMessage(fe validator.FieldError) string {
	param := fe.Param()

	unit := "characters"
	if k := fe.Kind(); k == reflect.Slice || k == reflect.Array {
		unit = "items"
		if param == "1" {
			unit = "item"
		}
	}

	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s %s", param, unit)
	case "max":
		return fmt.Sprintf("must contain at most %s %s", param, unit)
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", fe.Tag(), param)
		}
		return "failed " + fe.Tag() + " validation"
	}
}
