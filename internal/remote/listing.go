package remote

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/steveyegge/remit/internal/syspath"
)

var (
	// ErrNotFound is returned by Navigate for names not in the listing.
	ErrNotFound = errors.New("remote: entry not found")

	// ErrNotDirectory is returned by Navigate for entries that are not
	// directories.
	ErrNotDirectory = errors.New("remote: entry is not a directory")
)

// FileType is the kind of a listed entry.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeDirectory
	TypeFile
	TypeLink
)

func (t FileType) String() string {
	switch t {
	case TypeDirectory:
		return "dir"
	case TypeFile:
		return "file"
	case TypeLink:
		return "link"
	default:
		return "unknown"
	}
}

// Permissions is one rwx triplet.
type Permissions struct {
	Read  bool
	Write bool
	Exec  bool
}

func parsePermissions(s string) Permissions {
	return Permissions{
		Read:  s[0] == 'r',
		Write: s[1] == 'w',
		Exec:  s[2] == 'x' || s[2] == 's' || s[2] == 't',
	}
}

func (p Permissions) String() string {
	b := []byte("---")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Exec {
		b[2] = 'x'
	}
	return string(b)
}

// FileInfo is one line of an `ls -al` listing.
type FileInfo struct {
	Name       string
	Size       uint64
	Type       FileType
	Owner      Permissions
	Group      Permissions
	Other      Permissions
	User       string // owning user
	GroupName  string // owning group
	Modified   string // as printed by ls, e.g. "Jan  5 12:34"
	LinkTarget string // for links, the part after " -> "
}

// Mode renders the type and permissions the way ls does, e.g. drwxr-x---.
func (f FileInfo) Mode() string {
	t := "?"
	switch f.Type {
	case TypeDirectory:
		t = "d"
	case TypeFile:
		t = "-"
	case TypeLink:
		t = "l"
	}
	return t + f.Owner.String() + f.Group.String() + f.Other.String()
}

// Directory is a remote directory and its entries.
type Directory struct {
	Path  syspath.SystemPath
	Files map[string]FileInfo
}

// NewDirectory returns an empty listing for p.
func NewDirectory(p syspath.SystemPath) *Directory {
	return &Directory{Path: p, Files: make(map[string]FileInfo)}
}

// Names returns the entry names, sorted, without "." and "..".
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.Files))
	for name := range d.Files {
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Navigate changes the directory path. ".." moves to the parent; any
// other name must be a listed directory. Only the path changes; the
// entries must be listed again.
func (d *Directory) Navigate(name string) error {
	if name == ".." {
		d.Path.Pop()
		return nil
	}

	f, ok := d.Files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if f.Type != TypeDirectory {
		return fmt.Errorf("%w: %s", ErrNotDirectory, name)
	}

	d.Path.Push(name)
	return nil
}

// ParseListing parses the output of `ls -al`. The leading "total" line is
// skipped. Names may contain spaces; links are split on " -> ".
func ParseListing(output string) (map[string]FileInfo, error) {
	files := make(map[string]FileInfo)

	for i, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "total ") {
			continue
		}

		f, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		files[f.Name] = f
	}

	return files, nil
}

func parseLine(line string) (FileInfo, error) {
	var f FileInfo

	fields, rest := cutFields(line, 4)
	if len(fields) < 4 || len(fields[0]) < 10 {
		return f, fmt.Errorf("malformed entry %q", line)
	}

	mode := fields[0]
	switch mode[0] {
	case 'd':
		f.Type = TypeDirectory
	case '-':
		f.Type = TypeFile
	case 'l':
		f.Type = TypeLink
	default:
		f.Type = TypeUnknown
	}
	f.Owner = parsePermissions(mode[1:4])
	f.Group = parsePermissions(mode[4:7])
	f.Other = parsePermissions(mode[7:10])
	f.User = fields[2]
	f.GroupName = fields[3]

	// Device files print "major, minor" where the size would be.
	sizeFields, rest := cutFields(rest, 1)
	if len(sizeFields) == 1 && strings.HasSuffix(sizeFields[0], ",") {
		_, rest = cutFields(rest, 1)
	} else if len(sizeFields) == 1 {
		size, err := strconv.ParseUint(sizeFields[0], 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid size %q", sizeFields[0])
		}
		f.Size = size
	}

	date, rest := cutFields(rest, 3)
	if len(date) < 3 || rest == "" {
		return f, fmt.Errorf("malformed entry %q", line)
	}
	f.Modified = strings.Join(date, " ")

	f.Name = rest
	if f.Type == TypeLink {
		if name, target, ok := strings.Cut(rest, " -> "); ok {
			f.Name = name
			f.LinkTarget = target
		}
	}
	return f, nil
}

// cutFields returns the first n whitespace-separated fields of s and the
// remainder with its internal spacing intact.
func cutFields(s string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	for len(fields) < n {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			break
		}
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			fields = append(fields, s)
			s = ""
			break
		}
		fields = append(fields, s[:end])
		s = s[end:]
	}
	return fields, strings.TrimLeftFunc(s, unicode.IsSpace)
}
