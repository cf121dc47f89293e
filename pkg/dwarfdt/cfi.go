package dwarfdt

import "github.com/dpor-mc/mc/pkg/dwarf/frame"

// BuildFrameTable constructs a frame.Table for oi by assuming the
// standard frame-pointer calling convention (push fp; mov fp, sp at
// function entry) rather than decoding .eh_frame DWARF call-frame
// byte-code: every simulated actor is a cooperatively scheduled native
// thread built with frame pointers retained, exactly the convention the
// unwinder's own sentinel-frame stop (smx_ctx_wrapper) depends on to
// find the scheduler boundary. One FDE, one row, covers each function:
// CFA is frameReg+2*ptrSize, the saved frame pointer lives at CFA-2*ptrSize,
// and the return address at CFA-ptrSize.
func BuildFrameTable(oi *ObjectInfo, cfaReg, frameReg, retAddrReg uint64, ptrSize int) *frame.Table {
	var fdes []*frame.FDE
	for _, fr := range collectFunctions(oi) {
		ctx := frame.FrameContext{
			CFA:        frame.DWRule{Rule: frame.RuleCFA, Reg: frameReg, Offset: int64(2 * ptrSize)},
			RetAddrReg: retAddrReg,
			Regs: map[uint64]frame.DWRule{
				retAddrReg: {Rule: frame.RuleOffset, Offset: -int64(ptrSize)},
				frameReg:   {Rule: frame.RuleOffset, Offset: -int64(2 * ptrSize)},
			},
		}
		fdes = append(fdes, &frame.FDE{
			Begin: fr.LowPC,
			End:   fr.HighPC,
			Rows:  []frame.Row{{PC: fr.LowPC, Ctx: ctx}},
		})
	}
	return frame.NewTable(fdes)
}

func collectFunctions(oi *ObjectInfo) []*Frame {
	var out []*Frame
	for _, f := range oi.framesByOffset {
		if f.Tag == FrameFunction {
			out = append(out, f)
		}
	}
	return out
}
