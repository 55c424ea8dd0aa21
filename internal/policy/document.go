package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDocument is returned when a policy document fails validation.
// A rejected document never replaces the active one.
var ErrInvalidDocument = errors.New("policy: invalid document")

// Document is an immutable, validated access policy. Once built it is only
// ever read, so it can be shared across goroutines without locking.
type Document struct {
	raw           []byte
	commands      map[string]Level
	blocked       []string
	caseSensitive bool
	checkArgs     bool
	defaultLevel  Level
}

// rawDocument is the persisted JSON shape, matching the command_access /
// settings layout the admin tooling edits.
type rawDocument struct {
	CommandAccess map[string][]string `json:"command_access"`
	Settings      struct {
		DefaultAccessLevel string   `json:"default_access_level"`
		CaseSensitive      bool     `json:"case_sensitive"`
		CheckArgs          *bool    `json:"check_args"`
		BlockedKeywords    []string `json:"blocked_keywords"`
	} `json:"settings"`
}

// Parse validates raw JSON and builds a Document. It rejects malformed
// JSON, references to undefined levels, and commands listed under more
// than one level.
func Parse(raw []byte) (*Document, error) {
	var rd rawDocument
	if err := json.Unmarshal(raw, &rd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if rd.CommandAccess == nil {
		return nil, fmt.Errorf("%w: missing command_access section", ErrInvalidDocument)
	}

	doc := &Document{
		raw:           raw,
		commands:      make(map[string]Level),
		caseSensitive: rd.Settings.CaseSensitive,
		checkArgs:     true,
		defaultLevel:  LevelOwner,
	}
	if rd.Settings.CheckArgs != nil {
		doc.checkArgs = *rd.Settings.CheckArgs
	}

	// Unknown commands fall back to the most restrictive level unless the
	// document explicitly lowers the default.
	if rd.Settings.DefaultAccessLevel != "" {
		level, err := ParseLevel(rd.Settings.DefaultAccessLevel)
		if err != nil {
			return nil, err
		}
		doc.defaultLevel = level
	}

	for levelName, commands := range rd.CommandAccess {
		level, err := ParseLevel(levelName)
		if err != nil {
			return nil, err
		}
		for _, command := range commands {
			key := doc.commandKey(command)
			if key == "" {
				return nil, fmt.Errorf("%w: empty command under level %q", ErrInvalidDocument, levelName)
			}
			if prev, ok := doc.commands[key]; ok {
				return nil, fmt.Errorf("%w: command %q listed under both %s and %s",
					ErrInvalidDocument, key, prev, level)
			}
			doc.commands[key] = level
		}
	}

	for _, kw := range rd.Settings.BlockedKeywords {
		if kw == "" {
			continue
		}
		if doc.caseSensitive {
			doc.blocked = append(doc.blocked, kw)
		} else {
			doc.blocked = append(doc.blocked, strings.ToLower(kw))
		}
	}

	return doc, nil
}

// Resolve returns the access level required for a command. Unknown commands
// resolve to the document's default level, which is the most restrictive
// one unless explicitly configured otherwise.
func (d *Document) Resolve(command string) Level {
	if level, ok := d.commands[d.commandKey(command)]; ok {
		return level
	}
	return d.defaultLevel
}

// ContainsBlockedKeyword reports whether text contains any blocked keyword.
// Returns false when argument checking is disabled in the document.
func (d *Document) ContainsBlockedKeyword(text string) bool {
	if !d.checkArgs || text == "" {
		return false
	}
	if !d.caseSensitive {
		text = strings.ToLower(text)
	}
	for _, kw := range d.blocked {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Commands returns the command-to-level mapping grouped by level name,
// in the persisted document shape.
func (d *Document) Commands() map[string][]string {
	out := make(map[string][]string)
	for command, level := range d.commands {
		out[level.String()] = append(out[level.String()], command)
	}
	return out
}

// Raw returns the JSON the document was parsed from.
func (d *Document) Raw() []byte {
	return d.raw
}

// commandKey normalizes a command for lookup: the leading slash is
// stripped and, unless the document is case sensitive, it is folded
// to lower case.
func (d *Document) commandKey(command string) string {
	key := strings.TrimPrefix(strings.TrimSpace(command), "/")
	if !d.caseSensitive {
		key = strings.ToLower(key)
	}
	return key
}

// DefaultDocument returns the policy used when no document has ever been
// persisted: verification and help commands are public, everything else
// requires explicit configuration.
func DefaultDocument() []byte {
	return []byte(`{
  "command_access": {
    "public": ["start", "help", "token"],
    "authorized": [],
    "sudo": ["status", "stats"],
    "owner": ["restart", "botset", "cmdset"]
  },
  "settings": {
    "default_access_level": "owner",
    "case_sensitive": false,
    "check_args": true,
    "blocked_keywords": []
  }
}`)
}
