/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logrouter

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// routerCore is a zapcore.Core that routes the host's own logs under one source
type routerCore struct {
	zapcore.LevelEnabler
	router *Router
	source string
	enc    zapcore.Encoder
}

// NewCore returns a zapcore.Core that routes records under source.
// Tee it into the application logger so the host shows up next to the services.
// NewCore 返回将日志路由到 source 的 zapcore.Core，与应用日志器组合后宿主日志会与服务日志并列展示。
func NewCore(router *Router, source string, enab zapcore.LevelEnabler) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		MessageKey:       "msg",
		NameKey:          "logger",
		EncodeName:       zapcore.FullNameEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	return &routerCore{
		LevelEnabler: enab,
		router:       router,
		source:       source,
		enc:          zapcore.NewConsoleEncoder(encCfg),
	}
}

func (c *routerCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &routerCore{LevelEnabler: c.LevelEnabler, router: c.router, source: c.source, enc: enc}
}

func (c *routerCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *routerCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	msg := strings.TrimSpace(buf.String())
	buf.Free()
	c.router.Append(c.source, levelOf(ent.Level), msg)
	return nil
}

func (c *routerCore) Sync() error { return nil }

func levelOf(l zapcore.Level) Level {
	switch {
	case l >= zapcore.ErrorLevel:
		return LevelError
	case l == zapcore.WarnLevel:
		return LevelWarn
	case l <= zapcore.DebugLevel:
		return LevelDebug
	default:
		return LevelInfo
	}
}
