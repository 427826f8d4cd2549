// Package parser turns line-oriented QSL source text into an ordered
// instruction stream. Keywords are case-insensitive; // and # start
// comments. Conditional branches, loop bodies, and function bodies are
// parsed once into structured instruction sub-sequences, never kept as
// text.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"quasar/internal/diagnostics"
	"quasar/internal/source"
)

// Kind tags an instruction. The values double as the op suffix used by
// the IR lowering (q.<lowercased kind>).
type Kind string

const (
	KindAllocate      Kind = "ALLOCATE"
	KindLet           Kind = "LET"
	KindH             Kind = "H"
	KindX             Kind = "X"
	KindZ             Kind = "Z"
	KindRz            Kind = "RZ_EXPR"
	KindCNot          Kind = "CNOT_EXPR"
	KindSwap          Kind = "SWAP_EXPR" // produced by the routing pass, not by source text
	KindHadamardLayer Kind = "HADAMARD_LAYER"
	KindDiffusion     Kind = "DIFFUSION"
	KindMarkState     Kind = "MARKSTATE"
	KindGroverIterate Kind = "GROVER_ITERATE"
	KindQFT           Kind = "QFT"
	KindIQFT          Kind = "IQFT"
	KindExpect        Kind = "EXPECT"
	KindVar           Kind = "VAR"
	KindFnDef         Kind = "FN_DEF"
	KindCall          Kind = "CALL"
	KindCallR         Kind = "CALLR"
	KindReturn        Kind = "RETURN"
	KindIfChain       Kind = "IF_CHAIN"
	KindForInReg      Kind = "FOR_IN_REG"
	KindImport        Kind = "IMPORT"
	KindTrace         Kind = "TRACE"
	KindDumpState     Kind = "DUMPSTATE"
	KindProbs         Kind = "PROBS"
	KindMeasureOne    Kind = "MEASURE_ONE_EXPR"
	KindMeasureAll    Kind = "MEASURE_ALL"
)

// Instr is one parsed instruction. Args carries positional text
// arguments whose layout depends on Kind:
//
//	ALLOCATE          [reg, size]
//	LET               [name, expr]
//	H|X|Z             [reg, qexpr]
//	RZ_EXPR           [reg, qexpr, theta]
//	CNOT_EXPR         [reg, ctrl, tgt]
//	SWAP_EXPR         [reg, a, b]
//	HADAMARD_LAYER    [reg]
//	DIFFUSION         [reg]
//	MARKSTATE         [reg, bits]
//	GROVER_ITERATE    [reg, bits]
//	QFT|IQFT          [reg]            (NoSwap / Reverse flags apply)
//	EXPECT|VAR        [pauli, ref...]
//	FN_DEF            [name]
//	CALL|CALLR        [name, val...]   (CALLR sets Target)
//	RETURN            [expr]
//	IMPORT            [path]
//	TRACE             [msg]
//	MEASURE_ONE_EXPR  [reg, qexpr, sym]
//	MEASURE_ALL       [reg]            (Shots applies)
type Instr struct {
	Kind     Kind
	Args     []string
	Target   string   // CALLR assignment target
	Shots    int      // MEASURE_ALL sample count
	NoSwap   bool     // QFT: suppress the final swap network
	Reverse  bool     // IQFT: prepend the undo-swap network
	Branches []Branch // IF_CHAIN
	Body     []Instr  // FOR_IN_REG
	Line     int
}

// Branch is one arm of an IF/ELIF/ELSE chain.
type Branch struct {
	Kind string // "IF", "ELIF", "ELSE"
	Cond string
	Body []Instr
}

// FuncDef is a user-defined function template.
type FuncDef struct {
	Name   string
	Params []string
	Body   []Instr
}

// Program is the parse result consumed by the IR lowering, the emitter,
// and the simulator.
type Program struct {
	Filename string
	RegName  string
	NQubits  int
	Seed     int64
	HasSeed  bool
	Instrs   []Instr
	Funcs    map[string]FuncDef
}

type srcLine struct {
	text string
	num  int
}

type parser struct {
	filename string
	lines    []srcLine
	pos      int
	bag      *diagnostics.Bag
	prog     *Program
	fnDefs   map[string]srcLine
}

var (
	seedRe       = regexp.MustCompile(`(?i)^SEED\s+(\d+)$`)
	letRe        = regexp.MustCompile(`(?i)^LET\s+(\w+)\s*=\s*(.+)$`)
	allocRe      = regexp.MustCompile(`(?i)^ALLOCATE\s+(\w+)\s+(\d+)$`)
	gate1Re      = regexp.MustCompile(`(?i)^(H|X|Z)\s+(\w+)\[\s*(.+?)\s*\]$`)
	rzRe         = regexp.MustCompile(`(?i)^RZ\s+(.+)\s+(\w+)\[\s*(.+?)\s*\]$`)
	cnotRe       = regexp.MustCompile(`(?i)^CNOT\s+(\w+)\[\s*(.+?)\s*\]\s*,\s*(\w+)\[\s*(.+?)\s*\]$`)
	hlayerRe     = regexp.MustCompile(`(?i)^HADAMARD_LAYER\s+(\w+)$`)
	diffusionRe  = regexp.MustCompile(`(?i)^DIFFUSION\s+(\w+)$`)
	markstateRe  = regexp.MustCompile(`(?i)^MARKSTATE\s+(\w+)\s+"([01]+)"$`)
	groverRe     = regexp.MustCompile(`(?i)^GROVER_ITERATE\s+(\w+)\s+"([01]+)"$`)
	qftRe        = regexp.MustCompile(`(?i)^QFT\s+(\w+)(\s+NOSWAP)?$`)
	iqftRe       = regexp.MustCompile(`(?i)^IQFT\s+(\w+)(?:\s+REVERSE\s*=\s*(true|false))?$`)
	expectRe     = regexp.MustCompile(`(?i)^(EXPECT|VAR)\s+"([IXYZ]+)"\s+(.+)$`)
	fnOneLineRe  = regexp.MustCompile(`(?i)^FN\s+(\w+)\s*\(([^)]*)\)\s*\{(.*)\}\s*ENDFN$`)
	fnOpenRe     = regexp.MustCompile(`(?i)^FN\s+(\w+)\s*\(([^)]*)\)\s*\{$`)
	endFnRe      = regexp.MustCompile(`(?i)^\}?\s*ENDFN$`)
	callRe       = regexp.MustCompile(`(?i)^CALL\s+(\w+)\s*\(([^)]*)\)$`)
	callrRe      = regexp.MustCompile(`(?i)^CALLR\s+(\w+)\s*=\s*(\w+)\s*\(([^)]*)\)$`)
	returnRe     = regexp.MustCompile(`(?i)^RETURN\s+(.+)$`)
	ifRe         = regexp.MustCompile(`(?i)^IF\s+(.+?)\s*\{$`)
	elifRe       = regexp.MustCompile(`(?i)^ELIF\s+(.+?)\s*\{$`)
	elseRe       = regexp.MustCompile(`(?i)^ELSE\s*\{$`)
	endifRe      = regexp.MustCompile(`(?i)^ENDIF$`)
	forRe        = regexp.MustCompile(`(?i)^FOR\s+(\w+)\s+IN\s+(\w+)\s*\{$`)
	endforRe     = regexp.MustCompile(`(?i)^ENDFOR$`)
	importRe     = regexp.MustCompile(`(?i)^IMPORT\s+"([^"]+)"$`)
	traceRe      = regexp.MustCompile(`(?i)^TRACE\s+"([^"]*)"$`)
	dumpstateRe  = regexp.MustCompile(`(?i)^DUMPSTATE$`)
	probsRe      = regexp.MustCompile(`(?i)^PROBS$`)
	measureOneRe = regexp.MustCompile(`(?i)^MEASURE\s+(\w+)\[\s*(.+?)\s*\]\s+AS\s+(\w+)$`)
	measureAllRe = regexp.MustCompile(`(?i)^MEASURE\s+(\w+)(?:\s+SHOTS\s+(\d+))?$`)
)

const defaultShots = 1024

// Parse parses QSL source text. Structural errors are reported into bag
// and returned as a single error; the returned Program is nil on error.
func Parse(filename, text string, bag *diagnostics.Bag) (*Program, error) {
	if bag == nil {
		bag = diagnostics.NewBag()
	}
	bag.AddSourceContent(filename, text)

	p := &parser{
		filename: filename,
		lines:    cleanLines(text),
		bag:      bag,
		prog: &Program{
			Filename: filename,
			Funcs:    make(map[string]FuncDef),
		},
		fnDefs: make(map[string]srcLine),
	}

	instrs := p.parseSeq(nil)
	if p.pos < len(p.lines) {
		p.errorAt(p.lines[p.pos], fmt.Sprintf("unexpected %q outside any block", p.lines[p.pos].text))
	}
	if bag.HasErrors() {
		return nil, fmt.Errorf("%s: %d parse error(s)", filename, bag.ErrorCount())
	}
	p.prog.Instrs = instrs
	return p.prog, nil
}

func cleanLines(text string) []srcLine {
	var out []srcLine
	for i, raw := range strings.Split(text, "\n") {
		s := strings.TrimSpace(raw)
		if s == "" || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "#") {
			continue
		}
		if idx := strings.Index(s, "#"); idx >= 0 {
			s = strings.TrimSpace(s[:idx])
		}
		if s != "" {
			out = append(out, srcLine{text: s, num: i + 1})
		}
	}
	return out
}

func (p *parser) errorAt(ln srcLine, msg string) {
	p.bag.Add(diagnostics.NewError(msg).
		WithPrimaryLabel(p.filename, source.LineLocation(p.filename, ln.num, ln.text), ln.text))
}

func (p *parser) errorWithHelp(ln srcLine, msg, help string) {
	p.bag.Add(diagnostics.NewError(msg).
		WithPrimaryLabel(p.filename, source.LineLocation(p.filename, ln.num, ln.text), ln.text).
		WithHelp(help))
}

// parseSeq parses instructions until EOF or a line matched by stop; the
// stopping line is left unconsumed.
func (p *parser) parseSeq(stop func(string) bool) []Instr {
	var out []Instr
	for p.pos < len(p.lines) {
		ln := p.lines[p.pos]
		if stop != nil && stop(ln.text) {
			return out
		}
		if ln.text == "}" {
			p.pos++
			continue
		}
		if ins, ok := p.parseOne(ln); ok {
			out = append(out, ins...)
		}
	}
	return out
}

// parseOne consumes one instruction (or block) starting at ln. It
// returns zero instructions for directives like SEED and malformed
// lines (which are diagnosed).
func (p *parser) parseOne(ln srcLine) ([]Instr, bool) {
	s := ln.text

	if m := seedRe.FindStringSubmatch(s); m != nil {
		seed, _ := strconv.ParseInt(m[1], 10, 64)
		p.prog.Seed, p.prog.HasSeed = seed, true
		p.pos++
		return nil, false
	}
	if m := allocRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		if p.prog.RegName == "" {
			if n <= 0 {
				p.errorAt(ln, "register size must be positive")
				p.pos++
				return nil, false
			}
			p.prog.RegName, p.prog.NQubits = m[1], n
		}
		p.pos++
		return []Instr{{Kind: KindAllocate, Args: []string{m[1], m[2]}, Line: ln.num}}, true
	}
	if m := letRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindLet, Args: []string{m[1], m[2]}, Line: ln.num}}, true
	}
	if m := gate1Re.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: Kind(strings.ToUpper(m[1])), Args: []string{m[2], m[3]}, Line: ln.num}}, true
	}
	if m := rzRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindRz, Args: []string{m[2], m[3], strings.TrimSpace(m[1])}, Line: ln.num}}, true
	}
	if m := cnotRe.FindStringSubmatch(s); m != nil {
		if m[1] != m[3] {
			p.bag.Add(diagnostics.NewError("CNOT operands must name the same register").
				WithCode("Q0002").
				WithPrimaryLabel(p.filename, source.LineLocation(p.filename, ln.num, ln.text), ln.text).
				WithNote("a program allocates exactly one quantum register"))
			p.pos++
			return nil, false
		}
		p.pos++
		return []Instr{{Kind: KindCNot, Args: []string{m[1], m[2], m[4]}, Line: ln.num}}, true
	}
	if m := hlayerRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindHadamardLayer, Args: []string{m[1]}, Line: ln.num}}, true
	}
	if m := diffusionRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindDiffusion, Args: []string{m[1]}, Line: ln.num}}, true
	}
	if m := markstateRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindMarkState, Args: []string{m[1], m[2]}, Line: ln.num}}, true
	}
	if m := groverRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindGroverIterate, Args: []string{m[1], m[2]}, Line: ln.num}}, true
	}
	if m := qftRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindQFT, Args: []string{m[1]}, NoSwap: m[2] != "", Line: ln.num}}, true
	}
	if m := iqftRe.FindStringSubmatch(s); m != nil {
		p.pos++
		reverse := !strings.EqualFold(m[2], "false")
		return []Instr{{Kind: KindIQFT, Args: []string{m[1]}, Reverse: reverse, Line: ln.num}}, true
	}
	if m := expectRe.FindStringSubmatch(s); m != nil {
		kind := KindExpect
		if strings.EqualFold(m[1], "VAR") {
			kind = KindVar
		}
		args := []string{strings.ToUpper(m[2])}
		for _, ref := range strings.Split(m[3], ",") {
			args = append(args, strings.TrimSpace(ref))
		}
		p.pos++
		return []Instr{{Kind: kind, Args: args, Line: ln.num}}, true
	}
	if m := fnOneLineRe.FindStringSubmatch(s); m != nil {
		p.pos++
		body := p.parseInlineBody(ln, m[3])
		p.defineFunc(ln, m[1], m[2], body)
		return []Instr{{Kind: KindFnDef, Args: []string{m[1]}, Line: ln.num}}, true
	}
	if m := fnOpenRe.FindStringSubmatch(s); m != nil {
		p.pos++
		body := p.parseSeq(func(t string) bool { return endFnRe.MatchString(t) })
		if p.pos >= len(p.lines) {
			p.errorWithHelp(ln, "ENDFN missing", "close the function body with } ENDFN")
			return nil, false
		}
		p.pos++ // consume ENDFN
		p.defineFunc(ln, m[1], m[2], body)
		return []Instr{{Kind: KindFnDef, Args: []string{m[1]}, Line: ln.num}}, true
	}
	if m := callrRe.FindStringSubmatch(s); m != nil {
		p.pos++
		args := append([]string{m[2]}, splitArgs(m[3])...)
		return []Instr{{Kind: KindCallR, Args: args, Target: m[1], Line: ln.num}}, true
	}
	if m := callRe.FindStringSubmatch(s); m != nil {
		p.pos++
		args := append([]string{m[1]}, splitArgs(m[2])...)
		return []Instr{{Kind: KindCall, Args: args, Line: ln.num}}, true
	}
	if m := returnRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindReturn, Args: []string{strings.TrimSpace(m[1])}, Line: ln.num}}, true
	}
	if m := ifRe.FindStringSubmatch(s); m != nil {
		return p.parseIfChain(ln, strings.TrimSpace(m[1]))
	}
	if m := forRe.FindStringSubmatch(s); m != nil {
		p.pos++
		body := p.parseSeq(func(t string) bool { return endforRe.MatchString(t) })
		if p.pos >= len(p.lines) {
			p.errorWithHelp(ln, "ENDFOR missing", "close the loop with ENDFOR")
			return nil, false
		}
		p.pos++ // consume ENDFOR
		return []Instr{{Kind: KindForInReg, Args: []string{m[1], m[2]}, Body: body, Line: ln.num}}, true
	}
	if m := importRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindImport, Args: []string{m[1]}, Line: ln.num}}, true
	}
	if m := traceRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindTrace, Args: []string{m[1]}, Line: ln.num}}, true
	}
	if dumpstateRe.MatchString(s) {
		p.pos++
		return []Instr{{Kind: KindDumpState, Line: ln.num}}, true
	}
	if probsRe.MatchString(s) {
		p.pos++
		return []Instr{{Kind: KindProbs, Line: ln.num}}, true
	}
	if m := measureOneRe.FindStringSubmatch(s); m != nil {
		p.pos++
		return []Instr{{Kind: KindMeasureOne, Args: []string{m[1], m[2], m[3]}, Line: ln.num}}, true
	}
	if m := measureAllRe.FindStringSubmatch(s); m != nil {
		shots := defaultShots
		if m[2] != "" {
			shots, _ = strconv.Atoi(m[2])
		}
		p.pos++
		return []Instr{{Kind: KindMeasureAll, Args: []string{m[1]}, Shots: shots, Line: ln.num}}, true
	}

	p.bag.Add(diagnostics.NewError(fmt.Sprintf("unrecognized instruction: %s", s)).
		WithCode("Q0001").
		WithPrimaryLabel(p.filename, source.LineLocation(p.filename, ln.num, ln.text), "not a known instruction").
		WithHelp("keywords are case-insensitive; check the instruction name and argument shape"))
	p.pos++
	return nil, false
}

func (p *parser) parseIfChain(ln srcLine, cond string) ([]Instr, bool) {
	p.pos++ // consume IF header
	stop := func(t string) bool {
		return elifRe.MatchString(t) || elseRe.MatchString(t) || endifRe.MatchString(t)
	}
	branches := []Branch{{Kind: "IF", Cond: cond, Body: p.parseSeq(stop)}}

	for {
		if p.pos >= len(p.lines) {
			p.errorWithHelp(ln, "ENDIF missing", "close the conditional with ENDIF")
			return nil, false
		}
		t := p.lines[p.pos].text
		if m := elifRe.FindStringSubmatch(t); m != nil {
			p.pos++
			branches = append(branches, Branch{Kind: "ELIF", Cond: strings.TrimSpace(m[1]), Body: p.parseSeq(stop)})
			continue
		}
		if elseRe.MatchString(t) {
			p.pos++
			branches = append(branches, Branch{Kind: "ELSE", Body: p.parseSeq(func(s string) bool { return endifRe.MatchString(s) })})
			continue
		}
		if endifRe.MatchString(t) {
			p.pos++
			break
		}
		p.errorAt(p.lines[p.pos], "expected ELIF, ELSE, or ENDIF")
		return nil, false
	}
	return []Instr{{Kind: KindIfChain, Branches: branches, Line: ln.num}}, true
}

// parseInlineBody parses the body text of a one-line FN definition;
// multiple instructions may be separated by semicolons.
func (p *parser) parseInlineBody(ln srcLine, text string) []Instr {
	sub := &parser{
		filename: p.filename,
		bag:      p.bag,
		prog:     p.prog,
		fnDefs:   p.fnDefs,
	}
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			sub.lines = append(sub.lines, srcLine{text: part, num: ln.num})
		}
	}
	return sub.parseSeq(nil)
}

func (p *parser) defineFunc(ln srcLine, name, params string, body []Instr) {
	if prev, exists := p.fnDefs[name]; exists {
		p.bag.Add(diagnostics.NewWarning(fmt.Sprintf("function %s redefined", name)).
			WithPrimaryLabel(p.filename, source.LineLocation(p.filename, ln.num, ln.text), "this definition replaces the earlier one").
			WithSecondaryLabel(p.filename, source.LineLocation(p.filename, prev.num, prev.text), "first defined here"))
	}
	p.fnDefs[name] = ln
	p.prog.Funcs[name] = FuncDef{Name: name, Params: splitArgs(params), Body: body}
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
