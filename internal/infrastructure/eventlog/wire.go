// Package eventlog implements the line-delimited event wire protocol of
// spec.md 4.7 and a rotating, gzip-archiving file sink for it.
package eventlog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fleetshift/deployctl/internal/domain"
)

// Encode renders one event as a single structured key-value line,
// terminated by a newline (spec.md 4.7). Values containing spaces or `=`
// are double-quoted.
func Encode(e domain.Event) string {
	var b strings.Builder
	writeField(&b, "time", strconv.FormatInt(e.Time, 10))
	if e.Error != nil {
		writeField(&b, "stage", e.Stage)
		writeField(&b, "total", strconv.Itoa(e.Total))
		writeField(&b, "error.code", strconv.Itoa(e.Error.Code))
		writeField(&b, "error.message", e.Error.Message)
		b.WriteByte('\n')
		return b.String()
	}

	writeField(&b, "stage", e.Stage)
	writeField(&b, "task", e.Task)
	writeField(&b, "index", strconv.Itoa(e.Index))
	writeField(&b, "total", strconv.Itoa(e.Total))
	writeField(&b, "state", string(e.State))
	if e.HasProgress {
		writeField(&b, "progress", strconv.Itoa(e.Progress))
	}
	if len(e.Tags) > 0 {
		writeField(&b, "tags", strings.Join(e.Tags, ","))
	}
	for _, k := range sortedDataKeys(e.Data) {
		writeField(&b, "data."+k, dataValueString(e.Data[k]))
	}
	b.WriteByte('\n')
	return b.String()
}

func sortedDataKeys(data map[string]domain.Value) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dataValueString(v domain.Value) string {
	if v.Kind == domain.KindString {
		return v.Str
	}
	return fmt.Sprintf("%v", v.ToAny())
}

func writeField(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(key)
	b.WriteByte('=')
	if needsQuoting(value) {
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(value, `"`, `\"`))
		b.WriteByte('"')
		return
	}
	b.WriteString(value)
}

func needsQuoting(s string) bool {
	return s == "" || strings.ContainsAny(s, " \t\"=")
}

// Decode parses one event line. It returns ok=false for malformed lines,
// which the Renderer counts and drops silently (spec.md 4.8) rather than
// treating as an error.
func Decode(line string) (domain.Event, bool) {
	fields, ok := splitFields(line)
	if !ok {
		return domain.Event{}, false
	}

	var e domain.Event
	var hasTime, hasStage, hasTotal bool

	for k, v := range fields {
		switch k {
		case "time":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return domain.Event{}, false
			}
			e.Time = n
			hasTime = true
		case "stage":
			e.Stage = v
			hasStage = true
		case "task":
			e.Task = v
		case "index":
			n, err := strconv.Atoi(v)
			if err != nil {
				return domain.Event{}, false
			}
			e.Index = n
		case "total":
			n, err := strconv.Atoi(v)
			if err != nil {
				return domain.Event{}, false
			}
			e.Total = n
			hasTotal = true
		case "state":
			e.State = domain.TaskState(v)
		case "progress":
			n, err := strconv.Atoi(v)
			if err != nil {
				return domain.Event{}, false
			}
			e.Progress = n
			e.HasProgress = true
		case "tags":
			if v != "" {
				e.Tags = strings.Split(v, ",")
			}
		case "error.code":
			n, err := strconv.Atoi(v)
			if err != nil {
				return domain.Event{}, false
			}
			if e.Error == nil {
				e.Error = &domain.EventError{}
			}
			e.Error.Code = n
		case "error.message":
			if e.Error == nil {
				e.Error = &domain.EventError{}
			}
			e.Error.Message = v
		default:
			if strings.HasPrefix(k, "data.") {
				if e.Data == nil {
					e.Data = map[string]domain.Value{}
				}
				e.Data[strings.TrimPrefix(k, "data.")] = domain.NewString(v)
			}
		}
	}

	if !hasTime || !hasStage || !hasTotal {
		return domain.Event{}, false
	}
	if e.Error == nil && e.State == "" {
		return domain.Event{}, false
	}
	return e, true
}

// splitFields tokenizes a `key=value key2="quoted value"` line.
func splitFields(line string) (map[string]string, bool) {
	out := map[string]string{}
	i := 0
	n := len(line)
	for i < n {
		for i < n && line[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		keyStart := i
		for i < n && line[i] != '=' {
			i++
		}
		if i >= n {
			return nil, false
		}
		key := line[keyStart:i]
		i++ // skip '='
		var val string
		if i < n && line[i] == '"' {
			i++
			var b strings.Builder
			for i < n && line[i] != '"' {
				if line[i] == '\\' && i+1 < n && line[i+1] == '"' {
					b.WriteByte('"')
					i += 2
					continue
				}
				b.WriteByte(line[i])
				i++
			}
			if i >= n {
				return nil, false
			}
			i++ // skip closing quote
			val = b.String()
		} else {
			valStart := i
			for i < n && line[i] != ' ' {
				i++
			}
			val = line[valStart:i]
		}
		out[key] = val
	}
	return out, true
}
