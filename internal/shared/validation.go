package shared

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var rowIndex = regexp.MustCompile(`\.(Lines|Breakup)\[(\d+)\]`)

// FromValidator converts a validator error into a RuleError naming the first failed field and,
// for errors inside Lines or Breakup, the row index. Breakup fields are prefixed with
// "Breakup." so they are not mistaken for line fields.
func FromValidator(err error) *RuleError {
	re := NewRuleError(RuleValidation, ErrValidation, err.Error())
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return re
	}
	fe := verrs[0]
	re.Field = fe.Field()
	re.Detail = fmt.Sprintf("failed on %q", fe.Tag())
	if fe.Param() != "" {
		re.Detail = fmt.Sprintf("failed on %q (%s)", fe.Tag(), fe.Param())
	}
	if m := rowIndex.FindStringSubmatch(fe.Namespace()); m != nil {
		if i, convErr := strconv.Atoi(m[2]); convErr == nil {
			re.Line = i
		}
		if m[1] == "Breakup" {
			re.Field = "Breakup." + re.Field
		}
	}
	return re
}
