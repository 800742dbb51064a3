package shell

import (
	"os"
	"regexp"
	"strings"
)

var reEnv = regexp.MustCompile(`\${([^}{]+)}`)

// ReplaceEnvVars substitutes ${NAME} and ${NAME:default}. Unknown names
// without default are kept as is.
func ReplaceEnvVars(text string) string {
	return reEnv.ReplaceAllStringFunc(text, func(match string) string {
		key, def, hasDef := strings.Cut(match[2:len(match)-1], ":")

		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		if hasDef {
			return def
		}
		return match
	})
}
