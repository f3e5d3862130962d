package story

const DefaultTheme = "fantasy"

var themes = []string{
	"fantasy", "medieval", "scifi", "horror", "dark_fantasy", "urban_fantasy", "steampunk",
	"dieselpunk", "cyberpunk", "post_apocalypse", "dystopian", "space_opera", "cosmic_horror",
	"occult", "ancient", "renaissance", "victorian", "wild_west", "comedy", "noir",
	"mystery", "romance", "slice_of_life", "grimdark", "wholesome", "high_school", "college",
	"corporate", "pirate", "expedition", "anime", "superhero", "fairy_tale", "mythology",
}

// Themes returns the catalog of playable themes.
func Themes() []string {
	out := make([]string, len(themes))
	copy(out, themes)
	return out
}

func IsTheme(name string) bool {
	for _, t := range themes {
		if t == name {
			return true
		}
	}
	return false
}

// Normalize maps arbitrary input to a playable theme. Unknown or empty
// input falls back to the default rather than failing the start.
func Normalize(name string) string {
	if IsTheme(name) {
		return name
	}
	return DefaultTheme
}
