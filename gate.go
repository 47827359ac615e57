/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Seednode/quizbox/quiz"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrRateLimited    = errors.New("too many actions, slow down")
	ErrUnknownAction  = errors.New("unknown action")
)

type checkRoomRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

type joinRoomRequest struct {
	Code      string `json:"code" validate:"required,numeric,len=6"`
	Name      string `json:"name" validate:"required,min=1,max=20"`
	Character string `json:"character" validate:"max=32"`
}

type showQuestionRequest struct {
	Question quiz.Question `json:"question"`
}

type submitAnswerRequest struct {
	Answers []int `json:"answers" validate:"max=16,dive,min=0,max=15"`
}

type resumeRequest struct {
	Token string `json:"token" validate:"required_without=Name,omitempty,uuid4"`
	Code  string `json:"code" validate:"required_with=Name,omitempty,numeric,len=6"`
	Name  string `json:"name" validate:"required_without=Token,omitempty,max=20"`
}

// gate rejects malformed payloads before they reach the registry.
type gate struct {
	validate *validator.Validate
}

func newGate() *gate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return &gate{validate: v}
}

// decode unmarshals raw into dst and validates it, returning a message
// suitable for the client on failure.
func (g *gate) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	err := g.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	problems := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}

		_, field, _ := strings.Cut(fe.Namespace(), ".")

		return fmt.Sprintf("%s must satisfy %s", field, rule)
	})

	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
}
