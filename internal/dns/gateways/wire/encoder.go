package wire

import (
	"sync/atomic"

	"github.com/haukened/kdns/internal/dns/domain"
)

// Rotation is the round-robin cursor that picks the first record of an
// Answer-section RRset. It is shared by every encoder using it.
type Rotation struct {
	cursor atomic.Uint64
}

// Next returns the current cursor value and advances it.
func (r *Rotation) Next() uint64 {
	return r.cursor.Add(1) - 1
}

// DefaultRotation is the process-wide cursor used when an encoder is not
// given one.
var DefaultRotation = &Rotation{}

// EncoderOptions configures an Encoder.
type EncoderOptions struct {
	// MaxMsgLen bounds the encoded message. Zero means MaxUDPMessage.
	MaxMsgLen int
	// MaxAnswers caps the records added per RRset. Zero means unlimited.
	MaxAnswers int
	// Rotation overrides DefaultRotation.
	Rotation *Rotation
	// Compression overrides the per-encoder compression table.
	Compression *CompressionTable
}

// Encoder writes response sections into a Buffer whose first HeaderLen bytes
// hold the message header.
type Encoder struct {
	buf        *Buffer
	table      *CompressionTable
	maxMsgLen  int
	maxAnswers int
	rotation   *Rotation
	truncated  bool
}

// NewEncoder returns an encoder appending at buf's current position.
func NewEncoder(buf *Buffer, opts EncoderOptions) *Encoder {
	if opts.MaxMsgLen <= 0 {
		opts.MaxMsgLen = MaxUDPMessage
	}
	if opts.Rotation == nil {
		opts.Rotation = DefaultRotation
	}
	if opts.Compression == nil {
		opts.Compression = NewCompressionTable(domain.MaxRRsPerResponse)
	}
	return &Encoder{
		buf:        buf,
		table:      opts.Compression,
		maxMsgLen:  opts.MaxMsgLen,
		maxAnswers: opts.MaxAnswers,
		rotation:   opts.Rotation,
	}
}

// Truncated reports whether TC has been set on this message.
func (e *Encoder) Truncated() bool { return e.truncated }

// Close ends the response-building session and clears compression state.
func (e *Encoder) Close() { e.table.Reset() }

// AddCompressed registers name as already written at offset, e.g. the
// question name at offset 12, so later names can point into it.
func (e *Encoder) AddCompressed(name domain.Name, offset int) {
	for i := 0; i < name.LabelCount(); i++ {
		e.table.Record(name.Suffix(i).Key(), offset)
		offset += len(name.Labels()[i]) + 1
	}
}

func (e *Encoder) rollback(mark int) {
	e.buf.Reset(mark)
	e.table.Truncate(mark)
}

// EncodeName writes name leaf to root, emitting a pointer at the first suffix
// already present in the message. On failure nothing is left written.
func (e *Encoder) EncodeName(name domain.Name) error {
	mark := e.buf.Mark()
	if err := e.encodeName(name); err != nil {
		e.rollback(mark)
		return err
	}
	return nil
}

func (e *Encoder) encodeName(name domain.Name) error {
	labels := name.Labels()
	for i := range labels {
		key := name.Suffix(i).Key()
		if off, ok := e.table.Lookup(key); ok {
			return e.buf.WriteU16(0xC000 | uint16(off))
		}
		e.table.Record(key, e.buf.Position())
		if err := e.buf.WriteU8(uint8(len(labels[i]))); err != nil {
			return err
		}
		if err := e.buf.Write([]byte(labels[i])); err != nil {
			return err
		}
	}
	return e.buf.WriteU8(0)
}

func (e *Encoder) encodeUncompressed(name domain.Name) error {
	for _, l := range name.Labels() {
		if err := e.buf.WriteU8(uint8(len(l))); err != nil {
			return err
		}
		if err := e.buf.Write([]byte(l)); err != nil {
			return err
		}
	}
	return e.buf.WriteU8(0)
}

// EncodeRR writes one record under owner. If it does not fit within the
// buffer or the maximum message length, the buffer and compression table are
// rolled back and false is returned.
func (e *Encoder) EncodeRR(owner domain.Name, rr domain.Record) bool {
	mark := e.buf.Mark()
	if err := e.encodeRR(owner, rr); err != nil || e.buf.Position() > e.maxMsgLen {
		e.rollback(mark)
		return false
	}
	return true
}

func (e *Encoder) encodeRR(owner domain.Name, rr domain.Record) error {
	if err := e.encodeName(owner); err != nil {
		return err
	}
	if err := e.buf.WriteU16(uint16(rr.Type)); err != nil {
		return err
	}
	if err := e.buf.WriteU16(uint16(rr.Class)); err != nil {
		return err
	}
	if err := e.buf.WriteU32(rr.TTL); err != nil {
		return err
	}
	rdlenPos := e.buf.Position()
	if err := e.buf.Skip(2); err != nil {
		return err
	}
	for _, atom := range rr.Atoms {
		var err error
		switch atom.Kind {
		case domain.AtomCompressedName:
			err = e.encodeName(atom.Name)
		case domain.AtomUncompressedName:
			err = e.encodeUncompressed(atom.Name)
		default:
			err = e.buf.Write(atom.Data)
		}
		if err != nil {
			return err
		}
	}
	return e.buf.WriteU16At(rdlenPos, uint16(e.buf.Position()-rdlenPos-2))
}

// EncodeRRset writes the records of rrset into section and returns how many
// were added. Answer-section sets start at the rotation cursor. If a record
// does not fit in the Answer, Authority or Optional-Authority section, the
// whole set is rolled back, TC is set and 0 is returned. In the Additional
// section the records that fit are kept and TC is left alone.
func (e *Encoder) EncodeRRset(owner domain.Name, rrset *domain.RRset, section domain.Section) int {
	n := rrset.Len()
	if n == 0 {
		return 0
	}
	mark := e.buf.Mark()

	start := 0
	if section == domain.SectionAnswer {
		start = int(e.rotation.Next() % uint64(n))
	}
	limit := e.maxAnswers
	if rrset.MaxAnswer > 0 {
		limit = rrset.MaxAnswer
	}

	added := 0
	for i := 0; i < n; i++ {
		if limit > 0 && added >= limit {
			break
		}
		if !e.EncodeRR(owner, rrset.Records[(start+i)%n]) {
			if section == domain.SectionAdditional {
				return added
			}
			e.rollback(mark)
			e.setTC()
			return 0
		}
		added++
	}
	return added
}

func (e *Encoder) setTC() {
	e.truncated = true
	if e.buf.Position() >= HeaderLen {
		SetFlags(e.buf.Bytes(), FlagTC)
	}
}

// EncodeAnswer writes every section of a in wire order (answer, authority,
// optional authority, additional) and backpatches ANCOUNT, NSCOUNT and
// ARCOUNT. Optional authority is counted in NSCOUNT.
func (e *Encoder) EncodeAnswer(a *domain.AnswerSet) (ancount, nscount, arcount int) {
	for _, en := range a.Entries(domain.SectionAnswer) {
		ancount += e.EncodeRRset(en.Owner, en.RRset, domain.SectionAnswer)
	}
	for _, en := range a.Entries(domain.SectionAuthority) {
		nscount += e.EncodeRRset(en.Owner, en.RRset, domain.SectionAuthority)
	}
	for _, en := range a.Entries(domain.SectionOptionalAuthority) {
		nscount += e.EncodeRRset(en.Owner, en.RRset, domain.SectionOptionalAuthority)
	}
	for _, en := range a.Entries(domain.SectionAdditional) {
		arcount += e.EncodeRRset(en.Owner, en.RRset, domain.SectionAdditional)
	}
	_ = e.buf.WriteU16At(offANCount, uint16(ancount))
	_ = e.buf.WriteU16At(offNSCount, uint16(nscount))
	_ = e.buf.WriteU16At(offARCount, uint16(arcount))
	return ancount, nscount, arcount
}
