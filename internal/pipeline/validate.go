package pipeline

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/platewise/leadscout/internal/model"
)

// checkFunc validates a single field value. The value arrives cleaned and
// may be empty; empty values only fail required-field checks, not predicate
// checks, so optional fields stay optional.
type checkFunc func(value string) error

// checkRegistry is the closed set of named field predicates stage templates
// may reference.
var checkRegistry = map[string]checkFunc{
	"nonempty": checkNonempty,
	"url":      checkURL,
	"email":    checkEmail,
	"phone":    checkPhone,
	"rating":   checkRating,
}

func checkNonempty(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func checkURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be a valid http(s) URL")
	}
	return nil
}

func checkEmail(value string) error {
	if _, err := mail.ParseAddress(value); err != nil {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

// phoneRe accepts E.164-style and common US formats after separator
// stripping: 7 to 15 digits with an optional leading +.
var phoneRe = regexp.MustCompile(`^\+?\d{7,15}$`)

func checkPhone(value string) error {
	stripped := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(value)
	if !phoneRe.MatchString(stripped) {
		return fmt.Errorf("must be a valid phone number")
	}
	return nil
}

func checkRating(value string) error {
	r, err := strconv.ParseFloat(value, 64)
	if err != nil || r < 0 || r > 5 {
		return fmt.Errorf("must be a number between 0 and 5")
	}
	return nil
}

// leadField reads the named enrichment field off a lead as a string.
// Numeric fields render empty when unset so required checks treat them as
// missing.
func leadField(lead *model.Lead, field string) string {
	switch field {
	case "name":
		return lead.Name
	case "source_url":
		return lead.SourceURL
	case "rating":
		if lead.Rating == nil {
			return ""
		}
		return strconv.FormatFloat(*lead.Rating, 'f', -1, 64)
	case "review_count":
		if lead.ReviewCount == nil {
			return ""
		}
		return strconv.Itoa(*lead.ReviewCount)
	case "address":
		return lead.Address
	case "locality":
		return lead.Locality
	case "phone":
		return lead.Phone
	case "email":
		return lead.Email
	case "website":
		return lead.Website
	case "cuisine":
		return lead.Cuisine
	case "tags":
		return lead.Tags
	default:
		return ""
	}
}

// Validate applies a stage's declarative rules to a lead: every required
// field must be present, and every named check must pass for fields that
// carry a value. Returns validity plus one error per offending field. The
// lead itself is not mutated.
func Validate(stage *StageSpec, lead *model.Lead) (bool, []model.FieldError) {
	var errs []model.FieldError

	for _, field := range stage.Required {
		if strings.TrimSpace(leadField(lead, field)) == "" {
			errs = append(errs, model.FieldError{Field: field, Message: field + " is required"})
		}
	}

	for _, spec := range stage.Checks {
		value := leadField(lead, spec.Field)
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := checkRegistry[spec.Check](value); err != nil {
			errs = append(errs, model.FieldError{Field: spec.Field, Message: err.Error()})
		}
	}

	return len(errs) == 0, errs
}
