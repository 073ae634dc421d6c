package ir

import (
	"fmt"
	"strings"

	"github.com/hramberg/vjit/ir/opcode"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// fixup is one pending forward-branch patch site, linked intrusively: when the target block's
// address becomes known, the driver walks the list and rewrites each site.
type fixup struct {
	Site uintptr // Offset of the patch site within the emitted code buffer.
	Next *fixup
}

// Edge is a (src, dst, kind) control-flow edge, owned by neither endpoint; it is allocated by
// cfg.Build and detached when either block is deleted.
type Edge struct {
	Src, Dst *Block
	Kind      opcode.EdgeKind
}

// Block is a maximal straight-line instruction sequence terminated by a branch, return, throw or
// implicit fallthrough.
type Block struct {
	Func   *Function
	id     int
	labels []string // Label aliases; merge_empty appends the merged block's labels here.

	Insns []*Instruction

	Succs, Preds []*Edge

	Visited    bool // Set during cfg.Clean's reverse-postorder walk.
	EndsInDead bool // Set when the block's terminator makes any fallthrough edge unreachable.
	AddressOf  bool // Set when some instruction takes this block's address (computed goto, exception target).

	// Codegen state, reset by codegen's restart-on-overflow path.
	Address        uintptr
	Fixups         *fixup // Pending relative-branch patch sites.
	FixupsAbsolute *fixup // Pending absolute-address patch sites.
}

// ---------------------
// ----- Constants -----
// ---------------------

const labelBlockPrefix = "block"

// ---------------------
// ----- Functions -----
// ---------------------

// ID returns Block b's unique identifier.
func (b *Block) ID() int {
	return b.id
}

// Name returns the default textual label of Block b.
func (b *Block) Name() string {
	return fmt.Sprintf("%s%d", labelBlockPrefix, b.id)
}

// Labels returns every label alias bound to Block b.
func (b *Block) Labels() []string {
	return b.labels
}

// AddLabel binds an additional textual label to Block b.
func (b *Block) AddLabel(name string) {
	b.labels = append(b.labels, name)
}

// String returns a debug-friendly textual rendering of Block b and its instructions.
func (b *Block) String() string {
	sb := strings.Builder{}
	sb.WriteString(b.Name())
	sb.WriteString(":\n")
	for _, in := range b.Insns {
		sb.WriteRune('\t')
		sb.WriteString(in.String())
		sb.WriteRune('\n')
	}
	return sb.String()
}

// append appends instruction in to Block b's instruction list and assigns it a function-local id.
func (b *Block) append(op opcode.Op) *Instruction {
	in := &Instruction{Op: op, Block: b, id: b.Func.nextID()}
	b.Insns = append(b.Insns, in)
	return in
}

// Terminator returns Block b's last instruction if it is a terminator opcode, else nil.
func (b *Block) Terminator() *Instruction {
	if len(b.Insns) == 0 {
		return nil
	}
	last := b.Insns[len(b.Insns)-1]
	if opcode.IsTerminator(last.Op) {
		return last
	}
	return nil
}

// Next returns the block immediately following b in the function's block order, the implicit
// fallthrough target, or nil if b is last.
func (b *Block) Next() *Block {
	blocks := b.Func.Blocks
	for i, e := range blocks {
		if e == b && i+1 < len(blocks) {
			return blocks[i+1]
		}
	}
	return nil
}

// removeSucc detaches edge e from b.Succs.
func (b *Block) removeSucc(e *Edge) {
	for i, s := range b.Succs {
		if s == e {
			b.Succs = append(b.Succs[:i], b.Succs[i+1:]...)
			return
		}
	}
}

// removePred detaches edge e from b.Preds.
func (b *Block) removePred(e *Edge) {
	for i, p := range b.Preds {
		if p == e {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return
		}
	}
}
