// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package sip

import (
	"bytes"
	"strconv"
	"strings"
)

// StreamFramer tcp 上的 SIP 消息切分
//
// 一次 Feed 的数据可能包含半条、一条或者多条消息
//
type StreamFramer struct {
	buf []byte
}

// Feed 追加数据，返回已经完整的消息（原始字节，可直接交给 Parse）
//
// 头部超过 MaxHeaderSize 仍然找不到结束位置，或者 Content-Length 非法时丢弃所有缓存
//
func (f *StreamFramer) Feed(b []byte) [][]byte {
	f.buf = append(f.buf, b...)

	var ret [][]byte
	for {
		// 消息之间可能有 keepalive 用的 CRLF
		f.buf = bytes.TrimLeft(f.buf, "\r\n")
		if len(f.buf) == 0 {
			break
		}

		hdrEnd, sepLen := findHeaderEnd(f.buf)
		if hdrEnd < 0 {
			if len(f.buf) > MaxHeaderSize {
				Log.Warnf("sip header too large, drop. len=%d", len(f.buf))
				f.Reset()
			}
			break
		}

		cl, ok := contentLengthOf(f.buf[:hdrEnd])
		if !ok || cl > MaxMessageSize {
			Log.Warnf("invalid content-length, drop. len=%d", len(f.buf))
			f.Reset()
			break
		}
		total := hdrEnd + sepLen + cl
		if len(f.buf) < total {
			break
		}

		msg := make([]byte, total)
		copy(msg, f.buf[:total])
		ret = append(ret, msg)
		f.buf = f.buf[total:]
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
	return ret
}

func (f *StreamFramer) Len() int {
	return len(f.buf)
}

func (f *StreamFramer) Reset() {
	f.buf = nil
}

// contentLengthOf 没有 Content-Length 时按 0 处理
func contentLengthOf(hdr []byte) (int, bool) {
	for _, line := range strings.Split(string(hdr), "\n") {
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		if CanonicalName(strings.TrimSpace(line[:idx])) != HeaderContentLength {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, true
}
