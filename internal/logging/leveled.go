package logging

import (
	"fmt"
	"log"
	"strings"
)

// Leveled adds levels and key/value pairs on top of a *log.Logger.
// A nil *log.Logger discards everything.
type Leveled struct {
	l *log.Logger
}

// NewLeveled wraps l.
func NewLeveled(l *log.Logger) *Leveled {
	return &Leveled{l: l}
}

func (lv *Leveled) Info(msg string, kv ...interface{})  { lv.emit("INFO", msg, kv) }
func (lv *Leveled) Warn(msg string, kv ...interface{})  { lv.emit("WARN", msg, kv) }
func (lv *Leveled) Error(msg string, kv ...interface{}) { lv.emit("ERROR", msg, kv) }

func (lv *Leveled) emit(level, msg string, kv []interface{}) {
	if lv == nil || lv.l == nil {
		return
	}
	lv.l.Print(format(level, msg, kv))
}

func format(level, msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 == len(kv) {
			fmt.Fprintf(&b, "!BADKEY=%v", kv[i])
			break
		}
		fmt.Fprintf(&b, "%v=", kv[i])
		val := fmt.Sprint(kv[i+1])
		if strings.ContainsAny(val, " \t\n\"") {
			val = fmt.Sprintf("%q", val)
		}
		b.WriteString(val)
	}
	return b.String()
}
