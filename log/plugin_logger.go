package log

import (
	"errors"

	"github.com/go-lynx/servicebase/plugins"
)

// PluginLogger is the logging handle given to a plugin. Every line carries
// the plugin name.
type PluginLogger struct {
	plugin string
	out    *SBLogging
}

// Plugin returns the plugin name lines are attributed to.
func (p *PluginLogger) Plugin() string { return p.plugin }

func (p *PluginLogger) Debug(message string, meta ...Meta) {
	p.out.Log(DebugLevel, p.plugin, message, mergeMeta(meta))
}

func (p *PluginLogger) Info(message string, meta ...Meta) {
	p.out.Log(InfoLevel, p.plugin, message, mergeMeta(meta))
}

func (p *PluginLogger) Warn(message string, meta ...Meta) {
	p.out.Log(WarnLevel, p.plugin, message, mergeMeta(meta))
}

func (p *PluginLogger) Error(message string, meta ...Meta) {
	p.out.Log(ErrorLevel, p.plugin, message, mergeMeta(meta))
}

// ErrorErr logs err at error level. A *plugins.TemplateError is logged with
// its raw template and meta so sinks keep the structure.
func (p *PluginLogger) ErrorErr(err error, meta ...Meta) {
	if err == nil {
		return
	}
	var te *plugins.TemplateError
	if errors.As(err, &te) {
		m := mergeMeta(append([]Meta{te.Meta}, meta...))
		p.out.Log(ErrorLevel, p.plugin, te.Template, m)
		return
	}
	p.out.Log(ErrorLevel, p.plugin, err.Error(), mergeMeta(meta))
}

func mergeMeta(metas []Meta) Meta {
	switch len(metas) {
	case 0:
		return nil
	case 1:
		return metas[0]
	}
	out := Meta{}
	for _, m := range metas {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
