package sdk

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var _ DB = (*sql.DB)(nil)

func TestFuncs(t *testing.T) {
	ctx := &Context{Name: "billing-sync"}
	assert.NoError(t, Noop.Initialize(ctx))
	assert.NoError(t, Noop.Cleanup(ctx))

	var seen string
	m := Funcs{
		InitializeFunc: func(c *Context) error { seen = c.Name; return nil },
		CleanupFunc:    func(c *Context) error { return errors.New("busy") },
	}
	assert.NoError(t, m.Initialize(ctx))
	assert.Equal(t, "billing-sync", seen)
	assert.EqualError(t, m.Cleanup(ctx), "busy")
}

func TestContext_Setting(t *testing.T) {
	ctx := &Context{Settings: map[string]interface{}{"apiKey": "sk-test"}}

	v, ok := ctx.Setting("apiKey")
	assert.True(t, ok)
	assert.Equal(t, "sk-test", v)

	_, ok = ctx.Setting("missing")
	assert.False(t, ok)
}
