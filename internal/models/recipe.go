package models

// RecipeScriptRel is the link relation pointing at a recipe's script.
const RecipeScriptRel = "get recipe script"

type Link struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
}

// Recipe describes a machine recipe found through recipe search.
type Recipe struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Tags  []string `json:"tags,omitempty"`
	Links []Link   `json:"links,omitempty"`
}

// ScriptURL returns the href of the recipe script link, or "".
func (r Recipe) ScriptURL() string {
	for _, l := range r.Links {
		if l.Rel == RecipeScriptRel {
			return l.Href
		}
	}
	return ""
}
