package wire

import (
	"errors"

	"github.com/haukened/kdns/internal/dns/domain"
)

var (
	ErrPointerInQuestion = errors.New("wire: compression pointer in question name")
	ErrLabelPastEnd      = errors.New("wire: label extends past end of message")
	ErrQuestionTooLong   = errors.New("wire: question name exceeds 255 bytes")
	ErrQuestionTruncated = errors.New("wire: question type and class missing")
)

// Question is a decoded question section entry.
type Question struct {
	Name  domain.Name
	Type  domain.RRType
	Class domain.RRClass
}

// DecodeQuestion reads one question at buf's position. On success the
// position is just past QCLASS; on error the position is left unchanged.
func DecodeQuestion(buf *Buffer) (Question, error) {
	data := buf.data[:buf.limit]
	start := buf.pos
	end := len(data)
	src := start

	var labels []string
	for src < end && data[src] != 0 {
		l := int(data[src])
		if l&0xC0 != 0 {
			return Question{}, ErrPointerInQuestion
		}
		if src+l+2 > end {
			return Question{}, ErrLabelPastEnd
		}
		if src+l+2 > start+domain.MaxNameLen {
			return Question{}, ErrQuestionTooLong
		}
		labels = append(labels, string(data[src+1:src+1+l]))
		src += l + 1
	}
	if src >= end {
		return Question{}, ErrLabelPastEnd
	}
	src++ // root label

	if src-start > domain.MaxNameLen {
		return Question{}, ErrQuestionTooLong
	}
	if src+4 > end {
		return Question{}, ErrQuestionTruncated
	}
	name, err := domain.NameFromLabels(labels)
	if err != nil {
		return Question{}, err
	}

	buf.pos = src
	qtype, _ := buf.ReadU16()
	qclass, _ := buf.ReadU16()
	return Question{Name: name, Type: domain.RRType(qtype), Class: domain.RRClass(qclass)}, nil
}
