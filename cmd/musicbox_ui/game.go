package main

import (
	"context"
	"fmt"
	"image"

	"github.com/bep/debounce"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/musicbox-go"
	"github.com/cbegin/musicbox-go/internal/config"
	"github.com/cbegin/musicbox-go/internal/project"
	"github.com/cbegin/musicbox-go/internal/timeline"
)

const (
	windowW    = 1200
	windowH    = 860
	minWindowW = 1000
	minWindowH = 780

	minTempo  = 20
	maxTempo  = 300
	tempoStep = 5
	minSteps  = 4
	maxSteps  = 128
	stepsStep = 4
	labelW    = 5*charW + 16
)

// notice carries results from background work back to the UI thread.
type notice struct {
	msg     string
	err     error
	started bool // result of a togglePlay start
}

type game struct {
	player   *musicbox.Player
	store    *timeline.Store
	analyzer *analyzer
	log      logrus.FieldLogger

	scopeImg *ebiten.Image
	scopeW   int
	scopeH   int
	wavePeak float64

	volume         float64
	draggingVolume bool

	saveDir   string
	saveName  string
	notices   chan notice
	starting  bool
	autosave  func(func())
	unwatch   func()
	status    string
	statusErr bool

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(cfg config.Config, store *timeline.Store, saveDir, saveName string) (*game, error) {
	a := newAnalyzer()
	opts := append(musicbox.ConfigOptions(cfg),
		musicbox.WithStore(store),
		musicbox.WithSampleTap(a.Tap))
	pl, err := musicbox.NewPlayer(cfg.SampleRate, opts...)
	if err != nil {
		return nil, err
	}
	g := &game{
		player:    pl,
		store:     store,
		analyzer:  a,
		log:       logrus.WithField("component", "ui"),
		volume:    1,
		saveDir:   saveDir,
		saveName:  saveName,
		notices:   make(chan notice, 8),
		status:    "Ready",
		textCache: make(map[string]*ebiten.Image, 1024),
		viewW:     windowW,
		viewH:     windowH,
	}
	if cfg.Autosave.Enabled {
		g.autosave = debounce.New(cfg.Autosave.Delay)
		g.unwatch = store.OnChange(func() { g.autosave(g.saveInBackground) })
	}
	return g, nil
}

func (g *game) Close() {
	if g.unwatch != nil {
		g.unwatch()
	}
	g.player.Close()
}

func (g *game) Update() error {
	g.player.Present()
	g.pollNotices()
	g.handleKeys()
	g.handleMouse()
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	l := g.layoutRects()

	g.drawButton(screen, l.play, g.playButtonLabel())
	g.drawButton(screen, l.clear, "Clear")
	g.drawButton(screen, l.save, "Save")
	g.drawStepper(screen, l.tempo, fmt.Sprintf("%3.0f BPM", g.store.Tempo()))
	g.drawStepper(screen, l.steps, fmt.Sprintf("%d steps", g.store.TotalSteps()))
	g.drawVolumeSlider(screen, l.volume)

	g.drawSunkenPanel(screen, l.grid)
	g.drawGrid(screen, l.grid)
	g.drawDarkPanel(screen, l.scope)
	g.drawScope(screen, l.scope)
	g.drawSunkenPanel(screen, l.status)
	g.drawStatus(screen, l.status)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, minWindowW)
	g.viewH = max(outsideH, minWindowH)
	return g.viewW, g.viewH
}

type uiLayout struct {
	play, clear, save image.Rectangle
	tempo, steps      image.Rectangle
	volume            image.Rectangle
	grid, scope       image.Rectangle
	status            image.Rectangle
}

func (g *game) layoutRects() uiLayout {
	const pad = 8
	top := image.Rect(pad, pad, g.viewW-pad, pad+48)
	var l uiLayout
	x := top.Min.X
	next := func(w int) image.Rectangle {
		r := image.Rect(x, top.Min.Y, x+w, top.Max.Y)
		x += w + pad
		return r
	}
	l.play = next(110)
	l.clear = next(100)
	l.save = next(90)
	l.tempo = next(250)
	l.steps = next(250)
	l.volume = image.Rect(x, top.Min.Y, top.Max.X, top.Max.Y)

	l.status = image.Rect(pad, g.viewH-pad-40, g.viewW-pad, g.viewH-pad)
	l.scope = image.Rect(pad, l.status.Min.Y-pad-140, g.viewW-pad, l.status.Min.Y-pad)
	l.grid = image.Rect(pad, top.Max.Y+pad, g.viewW-pad, l.scope.Min.Y-pad)
	return l
}

// stepperButtons splits a stepper into its minus and plus buttons.
func stepperButtons(rect image.Rectangle) (minus, plus image.Rectangle) {
	w := rect.Dy()
	minus = image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+w, rect.Max.Y)
	plus = image.Rect(rect.Max.X-w, rect.Min.Y, rect.Max.X, rect.Max.Y)
	return minus, plus
}

func (g *game) drawStepper(screen *ebiten.Image, rect image.Rectangle, label string) {
	minus, plus := stepperButtons(rect)
	g.drawSunkenPanel(screen, image.Rect(minus.Max.X, rect.Min.Y, plus.Min.X, rect.Max.Y))
	g.drawButton(screen, minus, "-")
	g.drawButton(screen, plus, "+")
	w := len(label) * charW
	g.drawText(screen, label, rect.Min.X+(rect.Dx()-w)/2, rect.Min.Y+(rect.Dy()-lineH)/2)
}

// cellRect is the on-screen rectangle of a grid cell. The highest tine is
// drawn on top.
func (g *game) cellRect(grid image.Rectangle, row, step, rows, steps int) image.Rectangle {
	inner := image.Rect(grid.Min.X+labelW, grid.Min.Y+6, grid.Max.X-6, grid.Max.Y-6)
	line := rows - 1 - row
	x0 := inner.Min.X + step*inner.Dx()/steps
	x1 := inner.Min.X + (step+1)*inner.Dx()/steps
	y0 := inner.Min.Y + line*inner.Dy()/rows
	y1 := inner.Min.Y + (line+1)*inner.Dy()/rows
	return image.Rect(x0+1, y0+1, x1-1, y1-1)
}

// cellAt maps a mouse position to a grid cell.
func (g *game) cellAt(grid image.Rectangle, mx, my int) (row, step int, ok bool) {
	inner := image.Rect(grid.Min.X+labelW, grid.Min.Y+6, grid.Max.X-6, grid.Max.Y-6)
	if !pointInRect(mx, my, inner) {
		return 0, 0, false
	}
	rows := len(g.store.NoteRows())
	steps := g.store.TotalSteps()
	if rows == 0 || steps == 0 {
		return 0, 0, false
	}
	step = (mx - inner.Min.X) * steps / inner.Dx()
	line := (my - inner.Min.Y) * rows / inner.Dy()
	return rows - 1 - line, step, true
}

func (g *game) drawGrid(screen *ebiten.Image, grid image.Rectangle) {
	rows := g.store.NoteRows()
	steps := g.store.TotalSteps()
	current := g.store.CurrentStep()
	for r, nr := range rows {
		first := g.cellRect(grid, r, 0, len(rows), steps)
		g.drawTextScaled(screen, nr.Label, grid.Min.X+8, first.Min.Y+(first.Dy()-21)/2, 1.5)
		for s := 0; s < steps; s++ {
			cell := g.cellRect(grid, r, s, len(rows), steps)
			c := cellColor
			if s%4 == 0 {
				c = cellBeatColor
			}
			if s == current {
				c = playheadColor
			}
			fillRect(screen, cell, c)
		}
	}
	for _, n := range g.store.PlacedNotes() {
		if n.RowIndex < 0 || n.RowIndex >= len(rows) || n.StepIndex < 0 || n.StepIndex >= steps {
			continue
		}
		cell := g.cellRect(grid, n.RowIndex, n.StepIndex, len(rows), steps)
		c := pegColor
		if n.StepIndex == current {
			c = pegLitColor
		}
		fillRect(screen, cell.Inset(max(1, cell.Dx()/6)), c)
	}
}

func (g *game) drawVolumeSlider(screen *ebiten.Image, rect image.Rectangle) {
	g.drawPanel(screen, rect)
	g.drawText(screen, fmt.Sprintf("Vol %d%%", int(g.volume*100+0.5)), rect.Min.X+8, rect.Min.Y+(rect.Dy()-lineH)/2)
	track := volumeTrack(rect)
	if track.Dx() < 20 {
		return
	}
	fillRect(screen, track, bevelDarker)
	fillW := int(float64(track.Dx()) * clamp(g.volume, 0, 1))
	if fillW > 2 {
		fillRect(screen, image.Rect(track.Min.X+1, track.Min.Y+1, track.Min.X+fillW, track.Max.Y-1), sliderFillColor)
	}
	knobX := min(max(track.Min.X+fillW-5, track.Min.X-5), track.Max.X-5)
	knob := image.Rect(knobX, track.Min.Y-4, knobX+10, track.Max.Y+4)
	fillRect(screen, knob, panelColor)
	drawBorder(screen, knob)
}

func volumeTrack(rect image.Rectangle) image.Rectangle {
	y := rect.Min.Y + rect.Dy()/2 - 4
	return image.Rect(rect.Min.X+130, y, rect.Max.X-16, y+8)
}

func (g *game) drawStatus(screen *ebiten.Image, rect image.Rectangle) {
	msg := "Status: " + g.status
	if g.statusErr {
		msg = "Status: ERROR - " + g.status
	}
	maxChars := max(8, (rect.Dx()-16)/charW)
	g.drawText(screen, shortenEnd(msg, maxChars), rect.Min.X+8, rect.Min.Y+6)
}

func (g *game) handleKeys() {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControl) || ebiten.IsKeyPressed(ebiten.KeyMeta)
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		g.togglePlay()
	case inpututil.IsKeyJustPressed(ebiten.KeyS) && ctrl:
		g.save()
	case inpututil.IsKeyJustPressed(ebiten.KeyC) && !ctrl:
		g.clear()
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		g.nudgeTempo(tempoStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		g.nudgeTempo(-tempoStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowRight):
		g.nudgeSteps(stepsStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft):
		g.nudgeSteps(-stepsStep)
	}
}

func (g *game) handleMouse() {
	l := g.layoutRects()
	mx, my := ebiten.CursorPosition()
	if g.draggingVolume {
		if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
			g.updateVolumeFromMouse(mx, l.volume)
		} else {
			g.draggingVolume = false
		}
	}
	if !inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		return
	}
	tempoMinus, tempoPlus := stepperButtons(l.tempo)
	stepsMinus, stepsPlus := stepperButtons(l.steps)
	switch {
	case pointInRect(mx, my, l.play):
		g.togglePlay()
	case pointInRect(mx, my, l.clear):
		g.clear()
	case pointInRect(mx, my, l.save):
		g.save()
	case pointInRect(mx, my, tempoMinus):
		g.nudgeTempo(-tempoStep)
	case pointInRect(mx, my, tempoPlus):
		g.nudgeTempo(tempoStep)
	case pointInRect(mx, my, stepsMinus):
		g.nudgeSteps(-stepsStep)
	case pointInRect(mx, my, stepsPlus):
		g.nudgeSteps(stepsStep)
	case pointInRect(mx, my, l.volume):
		g.draggingVolume = true
		g.updateVolumeFromMouse(mx, l.volume)
	default:
		if row, step, ok := g.cellAt(l.grid, mx, my); ok {
			g.toggleCell(row, step)
		}
	}
}

func (g *game) toggleCell(row, step int) {
	added, err := g.store.ToggleNote(row, step)
	if err != nil {
		g.setError(err.Error())
		return
	}
	nr, _ := g.store.Row(row)
	if added {
		g.setStatus(fmt.Sprintf("Peg %s at step %d", nr.Label, step+1))
	} else {
		g.setStatus(fmt.Sprintf("Removed %s at step %d", nr.Label, step+1))
	}
}

// togglePlay starts playback off the UI thread since the audio device can
// take a while to come up.
func (g *game) togglePlay() {
	if g.starting {
		return
	}
	if g.player.Playing() {
		g.player.Stop()
		g.setStatus("Stopped")
		return
	}
	g.starting = true
	g.analyzer.Reset()
	g.setStatus("Starting audio...")
	go func() {
		if err := g.player.Start(context.Background()); err != nil {
			g.notices <- notice{err: err, started: true}
			return
		}
		g.notices <- notice{msg: "Playing", started: true}
	}()
}

func (g *game) playButtonLabel() string {
	switch {
	case g.starting:
		return "..."
	case g.store.IsPlaying():
		return "Stop"
	}
	return "Play"
}

func (g *game) clear() {
	g.store.Clear()
	g.setStatus("Cleared")
}

func (g *game) nudgeTempo(delta float64) {
	bpm := clamp(g.store.Tempo()+delta, minTempo, maxTempo)
	if err := g.store.SetTempo(bpm); err != nil {
		g.setError(err.Error())
		return
	}
	g.setStatus(fmt.Sprintf("Tempo %.0f BPM", bpm))
}

func (g *game) nudgeSteps(delta int) {
	n := min(max(g.store.TotalSteps()+delta, minSteps), maxSteps)
	if err := g.store.SetTotalSteps(n); err != nil {
		g.setError(err.Error())
		return
	}
	g.setStatus(fmt.Sprintf("%d steps", n))
}

func (g *game) updateVolumeFromMouse(mx int, rect image.Rectangle) {
	track := volumeTrack(rect)
	if track.Dx() <= 0 {
		return
	}
	g.volume = clamp(float64(mx-track.Min.X)/float64(track.Dx()), 0, 1)
	g.player.SetMasterVolume(g.volume)
}

func (g *game) save() {
	path, err := project.SaveFile(g.saveDir, g.saveName, g.store)
	if err != nil {
		g.log.WithError(err).Error("save failed")
		g.setError(err.Error())
		return
	}
	g.setStatus("Saved " + path)
}

// saveInBackground runs on the debounce goroutine.
func (g *game) saveInBackground() {
	path, err := project.SaveFile(g.saveDir, g.saveName, g.store)
	if err != nil {
		g.log.WithError(err).Warn("autosave failed")
		g.post(notice{err: err})
		return
	}
	g.log.WithField("path", path).Debug("autosaved")
	g.post(notice{msg: "Autosaved " + path})
}

// post drops the notice if the UI is backed up; the next one replaces it.
func (g *game) post(n notice) {
	select {
	case g.notices <- n:
	default:
	}
}

func (g *game) pollNotices() {
	for {
		select {
		case n := <-g.notices:
			if n.started {
				g.starting = false
			}
			if n.err != nil {
				g.setError(n.err.Error())
			} else {
				g.setStatus(n.msg)
			}
		default:
			return
		}
	}
}

func (g *game) setError(msg string) {
	g.status = msg
	g.statusErr = true
}

func (g *game) setStatus(msg string) {
	g.status = msg
	g.statusErr = false
}
