package scripts

import (
	"log/slog"
	"strings"
)

// ReturnValuePrefix marks stdout lines that carry a key=value result for the
// caller. The prefix is part of the script-author contract and must not
// change.
const ReturnValuePrefix = "cloudomatethecloudgarage_return_value"

// ExtractReturnValues scans stdout lines for the sentinel protocol. A later
// occurrence of a key overwrites an earlier one. Lines with the prefix but no
// "=" are skipped with a diagnostic; crashing the response path on malformed
// script output is worse than dropping the value.
func ExtractReturnValues(scriptName string, lines []string) map[string]string {
	values := make(map[string]string)
	for _, line := range lines {
		if !strings.HasPrefix(line, ReturnValuePrefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, ReturnValuePrefix))
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			slog.Warn("malformed return value line", "script", scriptName, "line", line)
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}
