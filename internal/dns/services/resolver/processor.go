// Package resolver answers queries on a worker core: it decodes the question,
// answers from the core's private record table when the name falls inside an
// authoritative zone, and hands everything else to the forwarding path.
package resolver

import (
	"encoding/binary"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/gateways/wire"
	"github.com/haukened/kdns/internal/dns/metrics"
	"github.com/haukened/kdns/internal/dns/repos/recordtable"
)

// Action tells the caller what to do with a processed query.
type Action uint8

const (
	// ActionDrop means no response is sent.
	ActionDrop Action = iota
	// ActionAnswer means Result.Response is sent to the client.
	ActionAnswer
	// ActionForward means the query is relayed upstream unchanged.
	ActionForward
)

func (a Action) String() string {
	switch a {
	case ActionAnswer:
		return "answer"
	case ActionForward:
		return "forward"
	default:
		return "drop"
	}
}

// Result is the outcome of Process.
type Result struct {
	Action   Action
	Response []byte
	// Question is set whenever the question decoded.
	Question wire.Question
	RCode    domain.RCode
}

// SOA timers used for the synthesized zone SOA.
const (
	soaSerial  = 1
	soaRefresh = 3600
	soaRetry   = 600
	soaExpire  = 86400
	soaMinimum = 30
	soaTTL     = 30
)

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// Zones are the authoritative zone apexes.
	Zones []string
	// MaxAnswers caps records per RRset; zero is unlimited.
	MaxAnswers int
	Rotation   *wire.Rotation
	Logger     log.Logger
	Metrics    *metrics.Metrics
}

// Processor builds responses from one record table. It is not safe for
// concurrent use; each core owns one.
type Processor struct {
	table       *recordtable.Table
	zones       []domain.Name
	soas        map[string]*domain.RRset
	maxAnswers  int
	rotation    *wire.Rotation
	compression *wire.CompressionTable
	answers     domain.AnswerSet
	logger      log.Logger
	metrics     *metrics.Metrics
}

// NewProcessor returns a Processor answering from table. Zone names that do
// not parse are logged and skipped.
func NewProcessor(table *recordtable.Table, opts ProcessorOptions) *Processor {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	p := &Processor{
		table:       table,
		soas:        make(map[string]*domain.RRset),
		maxAnswers:  opts.MaxAnswers,
		rotation:    opts.Rotation,
		compression: wire.NewCompressionTable(domain.MaxRRsPerResponse),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	for _, z := range opts.Zones {
		name, err := domain.ParseName(z)
		if err != nil || name.IsRoot() {
			p.logger.Warn(map[string]any{"zone": z}, "ignoring invalid authoritative zone")
			continue
		}
		if _, dup := p.soas[name.Key()]; dup {
			continue
		}
		p.zones = append(p.zones, name)
		p.soas[name.Key()] = synthesizeSOA(name)
	}
	return p
}

// synthesizeSOA builds the SOA served in the authority section of negative
// answers for zone.
func synthesizeSOA(zone domain.Name) *domain.RRset {
	mname, _ := domain.NameFromLabels(append([]string{"ns1"}, zone.Labels()...))
	rname, _ := domain.NameFromLabels(append([]string{"hostmaster"}, zone.Labels()...))
	timers := make([]byte, 20)
	binary.BigEndian.PutUint32(timers[0:], soaSerial)
	binary.BigEndian.PutUint32(timers[4:], soaRefresh)
	binary.BigEndian.PutUint32(timers[8:], soaRetry)
	binary.BigEndian.PutUint32(timers[12:], soaExpire)
	binary.BigEndian.PutUint32(timers[16:], soaMinimum)

	rs := domain.NewRRset(zone, domain.RRTypeSOA, domain.RRClassIN)
	rs.Add(soaTTL, domain.CompressedName(mname), domain.CompressedName(rname), domain.Bytes(timers))
	return rs
}

// Zone returns the longest authoritative zone containing name.
func (p *Processor) Zone(name domain.Name) (domain.Name, bool) {
	best, found := domain.Root, false
	for _, z := range p.zones {
		if name.IsSubdomainOf(z) && (!found || z.LabelCount() > best.LabelCount()) {
			best, found = z, true
		}
	}
	return best, found
}

// Process handles one query message. maxMsgLen bounds the response.
func (p *Processor) Process(query []byte, maxMsgLen int) Result {
	hdr, err := wire.ParseHeader(query)
	if err != nil || hdr.QR() {
		return Result{Action: ActionDrop}
	}
	if hdr.Opcode() != wire.OpcodeQuery {
		return p.fail(query, domain.RCodeNotImp)
	}
	if hdr.QDCount != 1 {
		return p.fail(query, domain.RCodeFormErr)
	}

	buf := wire.FromBytes(query)
	if err := buf.SetPosition(wire.HeaderLen); err != nil {
		return p.fail(query, domain.RCodeFormErr)
	}
	q, err := wire.DecodeQuestion(buf)
	if err != nil {
		p.logger.Debug(map[string]any{"id": hdr.ID, "error": err.Error()}, "malformed question")
		return p.fail(query, domain.RCodeFormErr)
	}

	zone, ok := p.Zone(q.Name)
	if !ok {
		return Result{Action: ActionForward, Question: q}
	}
	if q.Class != domain.RRClassIN && q.Class != domain.RRClassANY {
		res := p.fail(query, domain.RCodeRefused)
		res.Question = q
		return res
	}

	rcode := p.collect(q, zone)
	resp, ok := p.encode(query, buf.Position(), q, rcode, maxMsgLen)
	if !ok {
		res := p.fail(query, domain.RCodeServFail)
		res.Question = q
		return res
	}
	p.metrics.Responses.WithLabelValues(rcode.String()).Inc()
	return Result{Action: ActionAnswer, Response: resp, Question: q, RCode: rcode}
}

func (p *Processor) fail(query []byte, rc domain.RCode) Result {
	resp := wire.ErrorResponse(query, rc)
	if resp == nil {
		return Result{Action: ActionDrop}
	}
	p.metrics.Responses.WithLabelValues(rc.String()).Inc()
	return Result{Action: ActionAnswer, Response: resp, RCode: rc}
}

// collect fills p.answers for q and returns the response code.
func (p *Processor) collect(q wire.Question, zone domain.Name) domain.RCode {
	p.answers.Reset()

	final, err := p.chase(q)
	if err != nil {
		p.logger.Warn(map[string]any{"name": q.Name.Key(), "error": err.Error()}, "alias chase aborted")
		p.answers.Reset()
		return domain.RCodeServFail
	}
	p.addSRVTargets()

	if final.answered {
		return domain.RCodeNoError
	}
	if z, ok := p.Zone(final.name); ok {
		zone = z
	}
	p.answers.Add(domain.SectionAuthority, zone, p.soas[zone.Key()])
	if final.name.Equal(zone) || p.table.Exists(final.name.Key()) {
		return domain.RCodeNoError
	}
	return domain.RCodeNXDomain
}

// addSRVTargets adds in-table A records for every SRV target in the answer
// section.
func (p *Processor) addSRVTargets() {
	for _, en := range p.answers.Entries(domain.SectionAnswer) {
		if en.RRset.Type != domain.RRTypeSRV {
			continue
		}
		for _, rr := range en.RRset.Records {
			for _, atom := range rr.Atoms {
				if atom.Kind == domain.AtomBytes {
					continue
				}
				if rs, ok := p.table.Lookup(atom.Name.Key(), domain.RRTypeA); ok {
					p.answers.Add(domain.SectionAdditional, atom.Name, rs)
				}
			}
		}
	}
}

func (p *Processor) encode(query []byte, questionEnd int, q wire.Question, rcode domain.RCode, maxMsgLen int) ([]byte, bool) {
	if maxMsgLen <= 0 {
		maxMsgLen = wire.MaxUDPMessage
	}
	out := wire.NewBuffer(maxMsgLen)
	if err := wire.StartResponse(out, query, questionEnd); err != nil {
		return nil, false
	}
	msg := out.Bytes()
	wire.SetFlags(msg, wire.FlagAA)
	wire.SetRCode(msg, rcode)

	enc := wire.NewEncoder(out, wire.EncoderOptions{
		MaxMsgLen:   maxMsgLen,
		MaxAnswers:  p.maxAnswers,
		Rotation:    p.rotation,
		Compression: p.compression,
	})
	defer enc.Close()
	enc.AddCompressed(q.Name, wire.HeaderLen)
	enc.EncodeAnswer(&p.answers)
	return out.Bytes(), true
}
