package moltter

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	quotedRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	sha256Re = regexp.MustCompile(`SHA256\('([^']*)'\)`)
	mathRe   = regexp.MustCompile(`(\d+)\s*[×x*]\s*(\d+)`)
	pathRe   = regexp.MustCompile(`value at "([^"]+)" in: (.+)$`)
)

// Solve answers a registration challenge.
func Solve(kind, question string) (string, error) {
	switch kind {
	case "sha256":
		m := sha256Re.FindStringSubmatch(question)
		if m == nil {
			return "", fmt.Errorf("unrecognized sha256 challenge: %s", question)
		}
		sum := sha256.Sum256([]byte(m[1]))
		return hex.EncodeToString(sum[:])[:8], nil

	case "base64_decode":
		s, err := firstQuoted(question)
		if err != nil {
			return "", err
		}
		out, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("decode base64: %w", err)
		}
		return string(out), nil

	case "base64_encode":
		s, err := firstQuoted(question)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString([]byte(s)), nil

	case "math":
		m := mathRe.FindStringSubmatch(question)
		if m == nil {
			return "", fmt.Errorf("unrecognized math challenge: %s", question)
		}
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		return strconv.Itoa(a * b), nil

	case "reverse":
		s, err := firstQuoted(question)
		if err != nil {
			return "", err
		}
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil

	case "json_extract":
		m := pathRe.FindStringSubmatch(question)
		if m == nil {
			return "", fmt.Errorf("unrecognized json_extract challenge: %s", question)
		}
		return extract(m[2], m[1])

	default:
		return "", fmt.Errorf("unknown challenge type %q", kind)
	}
}

func firstQuoted(question string) (string, error) {
	m := quotedRe.FindString(question)
	if m == "" {
		return "", fmt.Errorf("no quoted value in challenge: %s", question)
	}
	return strconv.Unquote(m)
}

func extract(doc, path string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode challenge document: %w", err)
	}
	for _, key := range strings.Split(path, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("path %q not found", path)
		}
		if v, ok = obj[key]; !ok {
			return "", fmt.Errorf("path %q not found", path)
		}
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	default:
		return fmt.Sprint(x), nil
	}
}
