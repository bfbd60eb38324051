package validate

import (
	"errors"
	"strings"
	"sync"

	"github.com/dushixiang/warden/internal/errs"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhTranslations "github.com/go-playground/validator/v10/translations/zh"
)

var (
	once       sync.Once
	validate   *validator.Validate
	translator ut.Translator
)

func setup() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	zhLocale := zh.New()
	uni := ut.New(zhLocale, zhLocale)
	translator, _ = uni.GetTranslator("zh")
	_ = zhTranslations.RegisterDefaultTranslations(validate, translator)
}

// Struct 校验结构体，失败时返回 *errs.ValidationError（中文描述）
func Struct(v any) error {
	once.Do(setup)

	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.NewValidation("", err.Error())
	}

	fields := make([]string, 0, len(fieldErrs))
	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
		reasons = append(reasons, fe.Translate(translator))
	}
	return errs.NewValidation(strings.Join(fields, ","), strings.Join(reasons, "; "))
}
