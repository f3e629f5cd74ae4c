package bincore

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context is the explicit bundle, passed as *Context, threaded through every
// top-level operation instead of process-global state: it carries the
// image model, the disassembler, structured logging, and the resolved
// configuration.
type Context struct {
	Image        ImageModel
	Disassembler Disassembler
	Config       Config
	Log          *logrus.Entry
}

// NewContext builds a Context with a default logger and configuration.
func NewContext(image ImageModel, dis Disassembler) *Context {
	logger := logrus.New()
	return &Context{
		Image:        image,
		Disassembler: dis,
		Config:       DefaultConfig(),
		Log:          logger.WithField("component", "bincore"),
	}
}

// WithLog returns a copy of the context whose logger carries an extra
// correlation field, e.g. a point or payload's uuid.
func (c *Context) WithLog(field string, value interface{}) *Context {
	cp := *c
	cp.Log = c.Log.WithField(field, value)
	return &cp
}

// newID mints a fresh identity for a Payload or InstrumentationPoint,
// used both by the shared-payload table and as a structured-log
// correlation field.
func newID() uuid.UUID {
	return uuid.New()
}
