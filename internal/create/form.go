// Package create holds the machine creation dialog logic: recipe lookup by
// tags, form validation, and starting or replacing machines.
package create

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidForm = errors.New("invalid machine form")

const (
	RecipeType = "docker"

	searchSkip = 0
	searchMax  = 100

	sourceType = "recipe"
)

var recipeURL = regexp.MustCompile(`(https?|ftp)://(www\.)?(((([a-zA-Z0-9.\-]+\.){1,}[a-zA-Z]{2,4}|localhost))|((\d{1,3}\.){3}(\d{1,3})))(:(\d+))?(/([a-zA-Z0-9\-._~!$&'()*+,;=:@/]|%[0-9A-F]{2})*)?(\?([a-zA-Z0-9\-._~!$&'()*+,;=:/?@]|%[0-9A-F]{2})*)?(#([a-zA-Z0-9._\-]|%[0-9A-F]{2})*)?`)

// ValidRecipeURL reports whether s contains an http(s) or ftp URL.
func ValidRecipeURL(s string) bool {
	return recipeURL.MatchString(s)
}

// Form is the state of the creation dialog.
type Form struct {
	Name      string   `json:"name"`
	RecipeURL string   `json:"recipe_url"`
	Tags      []string `json:"tags,omitempty"`
}

// CanCreate gates both the create and the replace-dev-machine actions.
func (f Form) CanCreate() bool {
	return ValidRecipeURL(f.RecipeURL) && f.Name != ""
}

func (f Form) Validate() error {
	var problems []string
	if f.Name == "" {
		problems = append(problems, "name is required")
	}
	if !ValidRecipeURL(f.RecipeURL) {
		problems = append(problems, fmt.Sprintf("recipe url %q is not valid", f.RecipeURL))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidForm, strings.Join(problems, "; "))
	}
	return nil
}

// ParseTags splits a comma or space separated tag list.
func ParseTags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
