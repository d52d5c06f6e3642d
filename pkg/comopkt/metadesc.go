package comopkt

// TSResolution is the coarse timestamp resolution a sniffer or module
// template declares, finest-first (a larger value is coarser) so
// comparisons are simple integer comparisons ("sniffer resolution
// coarser than required" in §4.3).
type TSResolution int

const (
	TSResNanosecond TSResolution = iota
	TSResMicrosecond
	TSResMillisecond
	TSResSecond
)

// Flags are template-level capability bits negotiated alongside layers.
type Flags uint32

const (
	FlagNone Flags = 0
	// FlagPromiscRequired marks a module that needs promiscuous capture.
	FlagPromiscRequired Flags = 1 << iota
)

// Template is one candidate packet shape: either what a sniffer can
// produce, or what a module can consume. The four layer positions each
// take a concrete LayerType or LayerAny/LayerNone.
type Template struct {
	Link TopLevelType
	L2   LayerType
	L3   LayerType
	L4   LayerType

	TSRes         TSResolution
	Flags         Flags
	RequiredMeta  []string // pktmeta names that must be present
}

// Metadesc is a typed set of template packets, as produced by a sniffer
// (what it can emit) or declared by a module (what it can consume).
type Metadesc struct {
	Templates []Template
}

// layerSubset reports whether "want" is satisfiable by "have": LayerAny
// on the "have" side matches anything; a concrete layer on "have" only
// satisfies an equal concrete layer or LayerAny on "want".
func layerSubset(want, have LayerType) bool {
	if want == LayerAny {
		return true
	}
	if have == LayerAny {
		return true
	}
	return want == have
}

// TemplateIsSubset reports whether `sub` and `super` share a link type
// and each of sub's L2/L3/L4 positions is satisfiable by super's per
// layerSubset (LayerAny on either side accepts) — the core of "no template of the module's input is a
// subset of any template the sniffer can emit" in §4.3.
func TemplateIsSubset(sub, super Template) bool {
	if sub.Link != super.Link {
		return false
	}
	return layerSubset(sub.L2, super.L2) &&
		layerSubset(sub.L3, super.L3) &&
		layerSubset(sub.L4, super.L4)
}

// Affinity is the outcome of scoring a (module input template, sniffer
// output template) pair.
type Affinity struct {
	Compatible bool
	Reason     string // set when !Compatible
	Score      int
	SnifferTpl Template
	ModuleTpl  Template
}

func hasAllMeta(required []string, available []string) bool {
	for _, r := range required {
		found := false
		for _, a := range available {
			if a == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ScorePair computes the affinity between one module input template and
// one sniffer output template, per §4.3: fatal incompatibilities first,
// then a score rewarding exact layer matches over `any` and pktmeta
// overlap.
func ScorePair(moduleTpl Template, snifferTpl Template, snifferMeta []string) Affinity {
	if snifferTpl.TSRes > moduleTpl.TSRes {
		return Affinity{Reason: "sniffer timestamp resolution coarser than required"}
	}
	if moduleTpl.Flags&^snifferTpl.Flags != 0 {
		return Affinity{Reason: "flag mismatch"}
	}
	if !hasAllMeta(moduleTpl.RequiredMeta, snifferMeta) {
		return Affinity{Reason: "required pktmeta entries absent"}
	}
	if !TemplateIsSubset(moduleTpl, snifferTpl) {
		return Affinity{Reason: "module input is not a subset of any sniffer output template"}
	}

	score := 0
	exact := func(want, have LayerType) int {
		if want != LayerAny && want == have {
			return 2
		}
		if want == LayerAny {
			return 0
		}
		return 1
	}
	score += exact(moduleTpl.L2, snifferTpl.L2)
	score += exact(moduleTpl.L3, snifferTpl.L3)
	score += exact(moduleTpl.L4, snifferTpl.L4)
	for _, m := range moduleTpl.RequiredMeta {
		for _, s := range snifferMeta {
			if m == s {
				score++
			}
		}
	}

	return Affinity{
		Compatible: true,
		Score:      score,
		SnifferTpl: snifferTpl,
		ModuleTpl:  moduleTpl,
	}
}

// BestMatch picks, for a single module input Metadesc against a single
// sniffer output Metadesc, the highest-scoring compatible pair. ok is
// false if every pair is incompatible.
func BestMatch(module, sniffer Metadesc, snifferMeta []string) (Affinity, bool) {
	var best Affinity
	found := false
	for _, mt := range module.Templates {
		for _, st := range sniffer.Templates {
			a := ScorePair(mt, st, snifferMeta)
			if !a.Compatible {
				continue
			}
			if !found || a.Score > best.Score {
				best = a
				found = true
			}
		}
	}
	return best, found
}
