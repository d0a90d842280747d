package mail

import (
	_ "embed"
	"strings"
)

//go:embed disposable_domains.txt
var disposableList string

var disposableDomains = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, line := range strings.Split(disposableList, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
	return set
}()

// IsDisposable reports whether email uses a throwaway domain. Addresses
// without a domain count as disposable.
func IsDisposable(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return true
	}
	_, ok := disposableDomains[strings.ToLower(email[at+1:])]
	return ok
}
