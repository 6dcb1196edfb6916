package rclone

import (
	"fmt"
	"sort"
	"strings"
)

// Remote is one section of the rclone configuration.
type Remote struct {
	Name string
	Type string
	Host string
	User string
	Port string

	// Options holds every key of the section, including the ones above.
	Options map[string]string
}

// ParseConfigShow parses the INI-style output of `rclone config show`:
//
//	[name]
//	type = sftp
//	host = example.com
//
// Sections are returned in the order they appear.
func ParseConfigShow(output []byte) ([]Remote, error) {
	var remotes []Remote
	var cur *Remote

	for i, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") || len(line) < 3 {
				return nil, fmt.Errorf("line %d: malformed section header %q", i+1, line)
			}
			remotes = append(remotes, Remote{
				Name:    line[1 : len(line)-1],
				Options: make(map[string]string),
			})
			cur = &remotes[len(remotes)-1]
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", i+1, line)
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: option %q outside of a section", i+1, strings.TrimSpace(key))
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		cur.Options[key] = value
		switch key {
		case "type":
			cur.Type = value
		case "host":
			cur.Host = value
		case "user":
			cur.User = value
		case "port":
			cur.Port = value
		}
	}

	return remotes, nil
}

func sortedNames(remotes map[string]Remote) []string {
	names := make([]string, 0, len(remotes))
	for name := range remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
