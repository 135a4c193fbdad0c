// Package category guesses a pantry category for a detected receipt line.
package category

import (
	"context"
	"strings"
)

// Category is a coarse pantry shelf.
type Category string

const (
	Dairy     Category = "dairy"
	Produce   Category = "produce"
	Bakery    Category = "bakery"
	Meat      Category = "meat"
	Beverages Category = "beverages"
	Frozen    Category = "frozen"
	Pantry    Category = "pantry"
	Household Category = "household"
	Other     Category = "other"
)

// All lists every category in display order.
var All = []Category{Dairy, Produce, Bakery, Meat, Beverages, Frozen, Pantry, Household, Other}

// Parse maps free text to a known category, returning Other when nothing matches.
func Parse(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".\"'` ")
	for _, c := range All {
		if s == string(c) {
			return c
		}
	}
	return Other
}

// Guesser assigns a category to a product name.
type Guesser interface {
	Guess(ctx context.Context, name string) Category
}

// keywords are matched as substrings of the lowercased product name.
// Order matters: frozen goods and drinks are checked before their base category.
var keywords = []struct {
	category Category
	words    []string
}{
	{Frozen, []string{"tiefkühl", " tk ", "frozen", " eis ", "eiscreme", "pizza", "pommes"}},
	{Dairy, []string{"milch", "milk", "joghurt", "yogurt", "käse", "kaese", "cheese", "butter", "sahne", "cream", "quark", "skyr", "mozzarella", "gouda"}},
	{Bakery, []string{"brot", "bread", "brötchen", "broetchen", "toast", "croissant", "baguette", "semmel", "kuchen", "brezel"}},
	{Meat, []string{"hähnchen", "haehnchen", "chicken", "rind", "beef", "schwein", "pork", "hack", "wurst", "salami", "schinken", "fisch", "fish", "lachs", "salmon"}},
	{Beverages, []string{"wasser", "water", "saft", "juice", " cola", "limo", "bier", "beer", "wein", "wine", "kaffee", "coffee", "tee", "tea", "sprudel"}},
	{Produce, []string{"apfel", "äpfel", "apple", "banane", "banana", "tomate", "tomato", "gurke", "cucumber", "salat", "lettuce", "kartoffel", "potato", "zwiebel", "onion", "möhre", "karotte", "carrot", "paprika", "zitrone", "lemon", "orange", "beeren", "berries", "obst", "gemüse"}},
	{Household, []string{"spülmittel", "spuelmittel", "waschmittel", "detergent", "toilettenpapier", "toilet paper", "küchenrolle", "seife", "soap", "müllbeutel", "shampoo", "zahnpasta", "toothpaste", "schwamm"}},
	{Pantry, []string{"nudeln", "pasta", "spaghetti", "reis", "rice", "mehl", "flour", "zucker", "sugar", "salz", "salt", "öl", "oil", "essig", "vinegar", "müsli", "muesli", "haferflocken", "oats", "konserve", "dose", "bohnen", "beans", "linsen", "honig", "honey", "marmelade", "jam", "sauce", "ketchup", "senf"}},
}

// KeywordGuesser matches German and English grocery keywords.
type KeywordGuesser struct{}

// Guess returns the first category whose keyword occurs in name, or Other.
func (KeywordGuesser) Guess(_ context.Context, name string) Category {
	lower := " " + strings.ToLower(name) + " "
	for _, group := range keywords {
		for _, word := range group.words {
			if strings.Contains(lower, word) {
				return group.category
			}
		}
	}
	return Other
}
