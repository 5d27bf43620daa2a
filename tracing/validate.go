package tracing

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("auto_save_mode", func(fl validator.FieldLevel) bool {
			switch AutoSaveMode(fl.Field().String()) {
			case AutoSaveOff, AutoSaveFinish, AutoSaveRealTime:
				return true
			default:
				return false
			}
		})

		validateInst = v
	})
	return validateInst
}
