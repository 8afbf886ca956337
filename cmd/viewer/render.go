package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/grid"
)

const statusRows = 1

var (
	styleWall   = tcell.StyleDefault.Background(tcell.NewRGBColor(60, 60, 60))
	styleFloor  = tcell.StyleDefault.Background(tcell.ColorBlack)
	styleStatus = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.NewRGBColor(20, 20, 40))
)

// view maps between screen cells and the simulation grid.
type view struct {
	cols, rows int
	w, h       int
}

func newView(screenW, screenH, gridW, gridH int) view {
	return view{cols: max(1, screenW), rows: max(1, screenH-statusRows), w: gridW, h: gridH}
}

// cell returns the grid cell under screen position (sx, sy).
func (v view) cell(sx, sy int) (int, int) {
	return sx * v.w / v.cols, sy * v.h / v.rows
}

// goal maps a screen position to a normalized goal.
func (v view) goal(sx, sy int) protocol.Goal {
	g, _ := netcode.ClampGoal((float64(sx)+0.5)/float64(v.cols), (float64(sy)+0.5)/float64(v.rows))
	return g
}

func (v view) screenOf(g protocol.Goal) (int, int) {
	return min(v.cols-1, int(g.X*float64(v.cols))), min(v.rows-1, int(g.Y*float64(v.rows)))
}

func sideColor(side int, mag float64) tcell.Color {
	level := int32(60 + mag*195/255)
	if side == 0 {
		return tcell.NewRGBColor(level/4, level/2, level)
	}
	return tcell.NewRGBColor(level, level/4, level/4)
}

// drawFrame paints one interpolated frame. walls may be nil before the
// match description arrives.
func drawFrame(s tcell.Screen, rs netcode.RenderState, walls *grid.Grid, side int, cursor protocol.Goal, status string) {
	sw, sh := s.Size()
	s.Clear()
	if !rs.Ready || rs.Width == 0 || rs.Height == 0 {
		drawText(s, 0, sh-1, styleStatus, padTo("waiting for authority... "+status, sw))
		s.Show()
		return
	}
	v := newView(sw, sh, rs.Width, rs.Height)
	for sy := 0; sy < v.rows; sy++ {
		for sx := 0; sx < v.cols; sx++ {
			x, y := v.cell(sx, sy)
			i := y*rs.Width + x
			st := styleFloor
			ch := ' '
			switch {
			case walls != nil && walls.Width() == rs.Width && !walls.IsWalkable(x, y):
				st = styleWall
			case rs.Owners[i] != encoding.OwnerNone:
				st = tcell.StyleDefault.Background(sideColor(rs.Owners[i].Side(), rs.Mags[i]))
			}
			s.SetContent(sx, sy, ch, nil, st)
		}
	}
	for g, goal := range rs.Goals {
		gx, gy := v.screenOf(goal)
		s.SetContent(gx, gy, 'x', nil, tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(sideColor(g, 255)))
	}
	cx, cy := v.screenOf(cursor)
	s.SetContent(cx, cy, '+', nil, tcell.StyleDefault.Foreground(tcell.ColorYellow))

	line := fmt.Sprintf("tick=%d seq=%d you=%c  A=%d B=%d", rs.Tick, rs.Seq, 'A'+rune(side), rs.Totals.Side(0), rs.Totals.Side(1))
	if rs.Phase == protocol.PhaseEnded {
		line += "  ENDED " + result(rs, side)
	}
	line += "  " + status
	drawText(s, 0, sh-1, styleStatus, padTo(line, sw))
	s.Show()
}

func result(rs netcode.RenderState, side int) string {
	switch rs.Winner {
	case -1:
		return "draw (" + rs.Reason + ")"
	case side:
		return "you win (" + rs.Reason + ")"
	}
	return "you lose (" + rs.Reason + ")"
}

func drawText(s tcell.Screen, x, y int, st tcell.Style, text string) {
	for i, r := range []rune(text) {
		s.SetContent(x+i, y, r, nil, st)
	}
}

func padTo(s string, n int) string {
	r := []rune(s)
	if len(r) >= n {
		return string(r[:max(0, n)])
	}
	for len(r) < n {
		r = append(r, ' ')
	}
	return string(r)
}
