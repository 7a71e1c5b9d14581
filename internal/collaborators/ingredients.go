package collaborators

import "github.com/pantryworks/reciperecon/internal/envelope"

// ValidateIngredients filters a scraped ingredient list, allowing exactly one
// ingredient with neither quantity nor unit through (a garnish/"to taste"
// line item); any further ingredient missing both is dropped.
func ValidateIngredients(ingredients []envelope.RecipeIngredient) []envelope.RecipeIngredient {
	skippedOne := false
	valid := make([]envelope.RecipeIngredient, 0, len(ingredients))
	for _, ing := range ingredients {
		if ing.Quantity == nil && ing.Unit == nil {
			if !skippedOne {
				skippedOne = true
				valid = append(valid, ing)
			}
			continue
		}
		valid = append(valid, ing)
	}
	return valid
}
