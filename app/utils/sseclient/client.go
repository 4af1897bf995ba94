package sseclient

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Event 一个完整的 SSE 事件
type Event struct {
	ID   string
	Name string
	Data string
}

// Decode 把事件数据按 JSON 解码到 v
func (e *Event) Decode(v any) error {
	return json.Unmarshal([]byte(e.Data), v)
}

// Scanner 从一条 SSE 响应流里逐个读出事件。
// 注释行（冒号开头的 keepalive）被跳过，id 行记录到下一个事件上，
// 跨多个 data 行的数据按规范用换行拼接。
type Scanner struct {
	reader *bufio.Reader

	lastID string
	event  Event
	data   []string
}

// NewScanner 创建 SSE 事件读取器
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		reader: bufio.NewReader(r),
	}
}

// Next 阻塞读取下一个事件，流结束时返回 io.EOF
func (s *Scanner) Next() (Event, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(s.data) > 0 {
				return s.flush(), nil
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		// 空行表示一个事件结束
		if line == "" {
			if len(s.data) == 0 {
				continue
			}
			return s.flush(), nil
		}

		// 注释行，keepalive 走这里
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "id":
			s.lastID = value
		case "event":
			s.event.Name = value
		case "data":
			s.data = append(s.data, value)
		}
	}
}

func (s *Scanner) flush() Event {
	ev := s.event
	ev.ID = s.lastID
	ev.Data = strings.Join(s.data, "\n")
	if ev.Name == "" {
		ev.Name = "message"
	}

	s.event = Event{}
	s.data = nil
	return ev
}

func splitField(line string) (field, value string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	// 规范允许冒号后有一个空格
	return field, strings.TrimPrefix(value, " ")
}
