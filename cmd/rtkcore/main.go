// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.22
//

package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	m "github.com/mkhts/rtkcore"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

// Main application processing
func runApplication(args cmdOpt) error {

	// Load input files
	obs, eph, baseObs, err := loadInputFiles(args)
	if err != nil {
		return fmt.Errorf("failed to load input files: %w", err)
	}

	if m.DBG_ >= 1 {
		m.PrintA("--- obs data (%s)---\n", filepath.Base(args.obsFn))
		fmt.Println(obs)
		if len(obs.DatE) > 0 {
			for sys, n := range obs.DatE[0].CountBySys() {
				m.PrintA("\t%c: %d sats in first epoch\n", sys, n)
			}
		}
		if baseObs != nil {
			m.PrintA("--- obs data (%s)---\n", filepath.Base(args.baseObsFn))
			fmt.Println(baseObs)
		}
	}
	if m.DBG_ >= 2 {
		m.PrintA("--- nav data (%s)---\n", filepath.Base(args.navFn))
		fmt.Println(eph.Nav)
	}

	// Prepare output file
	pos, err := prepareOutput(args)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	defer closeOutput(pos)

	// Print header
	if !args.noPosHeader {
		printPosHeader(pos, os.Args[0], args.mode, args.obsFn, args.navFn, args.baseObsFn, args.basePos, obs)
	}

	// Process epochs
	return processEpochs(args, obs, eph, baseObs, pos)
}

// Load input files
func loadInputFiles(args cmdOpt) (*m.Obs, *m.DefaultEphemerisProvider, *m.Obs, error) {

	obs, err := readObs(args.obsFn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read observation file: %w", err)
	}

	navFile, err := os.Open(args.navFn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read navigation file: %w", err)
	}
	eph, err := m.LoadNavProvider(navFile)
	navFile.Close()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read navigation file: %w", err)
	}

	var baseObs *m.Obs
	if args.mode == m.DGPS || args.mode == m.RTK {
		baseObs, err = readObs(args.baseObsFn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read base observation file: %w", err)
		}
	}

	return obs, eph, baseObs, nil
}

// Prepare output file
func prepareOutput(args cmdOpt) (io.WriteCloser, error) {
	if len(args.posFn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}
	posf, err := os.Create(args.posFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return posf, nil
}

// Close output file
func closeOutput(pos io.WriteCloser) {
	if pos != nil {
		pos.Close()
	}
}

// runState carries per-run state between epochs. Its sess field drives an
// m.Session across every epoch in an RTK run; it is nil for SPP/DGPS modes,
// which have no filter state to carry between epochs.
type runState struct {
	sess *m.Session
	ion  m.IonoParam
}

// Process epochs
func processEpochs(args cmdOpt, obs *m.Obs, eph *m.DefaultEphemerisProvider, baseObs *m.Obs, pos io.Writer) error {

	rs := &runState{ion: m.DefaultIonoParam()}
	if args.mode == m.RTK {
		cfg := buildConfig(args)
		rs.sess = m.NewSession(cfg, eph, maxTrackedSats(eph.Nav))
	}

	for _, obse := range obs.DatE {
		if err := processSingleEpoch(args, obse, eph.Nav, baseObs, rs, pos); err != nil {
			m.LogEpochError(obse.Time, err)
			continue
		}
	}

	return nil
}

// maxTrackedSats sizes the Session's satellite tracking table off the
// distinct satellites present in the navigation file.
func maxTrackedSats(nav *m.Nav) int {
	n := len(*nav)
	if n < 12 {
		return 12
	}
	return n
}

// buildConfig derives a Session Config from the command-line options,
// following the same NewXxxOpt-then-override pattern setSppOpt uses.
func buildConfig(args cmdOpt) *m.Config {
	cfg := m.NewConfig()
	cfg.ElMin = args.elMask
	cfg.ThresAR = args.ratioThres
	if args.ratioThres <= 0 {
		cfg.AmbMode = m.AmbiguityOff
	}
	if args.noTrop {
		cfg.TropoOpt = m.TropoOff
	}
	if args.movingBase {
		cfg.Mode = m.ModeMovingBase
		cfg.BaselineNominal = args.baselineLen
	}
	cfg.FilterVariant = args.filterVariant
	return cfg
}

// Process single epoch
func processSingleEpoch(args cmdOpt, obse *m.ObsE, nav *m.Nav, baseObs *m.Obs, rs *runState, pos io.Writer) error {

	if !shouldProcessEpoch(obse, args) {
		return nil
	}

	m.PrintD(2, "\n>>> %s\n", obse.Time.ToTime().UTC())

	baseSpp, baseObsE, err := processBaseStation(args, obse, nav, baseObs)
	if err != nil {
		return fmt.Errorf("base station processing failed: %w", err)
	}

	rovSpp, err := processRoverStation(args, obse, nav, baseSpp)
	if err != nil {
		return fmt.Errorf("rover station processing failed: %w", err)
	}

	var result *m.Result
	if args.mode == m.RTK {
		result, err = rs.sess.Step(obse, baseObsE, rovSpp.Pos, args.basePos, rs.ion)
		if err != nil {
			return fmt.Errorf("RTK processing failed: %w", err)
		}
	}

	printPos(args.mode, rovSpp.Time, rovSpp, baseSpp, result, pos)

	return nil
}

// Filter epochs
func shouldProcessEpoch(obse *m.ObsE, args cmdOpt) bool {
	if obse.Time.Before(args.ts, true) {
		return false
	}
	if obse.Time.After(args.te, true) {
		return false
	}
	if args.ti > 0 && !obse.Time.Divisible(args.ti) {
		return false
	}
	return true
}

// Process base station
func processBaseStation(args cmdOpt, obse *m.ObsE, nav *m.Nav, baseObs *m.Obs) (*m.SppSol, *m.ObsE, error) {
	if args.mode != m.DGPS && args.mode != m.RTK {
		return nil, nil, nil
	}

	baseObsE, err := baseObs.GetNearest(obse.Time)
	if err != nil {
		return nil, nil, fmt.Errorf("no base data found")
	}

	m.PrintD(2, "\n\t--- spp for base ---\n")
	sppOpt := setSppOpt(&args)
	sppOpt.EpheSelT = &obse.Time
	sppOpt.IsBase = true

	baseSpp, err := m.CalcSpp(baseObsE, nav, sppOpt)
	if err != nil {
		return nil, nil, fmt.Errorf("spp for base station failed: %w", err)
	}

	return baseSpp, baseObsE, nil
}

// Process rover station
func processRoverStation(args cmdOpt, obse *m.ObsE, nav *m.Nav, baseSpp *m.SppSol) (*m.SppSol, error) {
	m.PrintD(2, "\n\t--- spp for rover ---\n")
	sppOpt := setSppOpt(&args)
	sppOpt.IsBase = false

	if baseSpp != nil {
		sppOpt.DgpsCorr = baseSpp.DgpsCorr
	}

	rovSpp, err := m.CalcSpp(obse, nav, sppOpt)
	if err != nil {
		return nil, fmt.Errorf("spp for rover station failed: %w", err)
	}

	return rovSpp, nil
}

// nopCloser - WriteCloser that ignores close operations
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Structure to hold command line argument information
type cmdOpt struct {
	obsFn           string
	navFn           string
	baseObsFn       string
	posFn           string
	mode            m.Mode
	ts, te          time.Time
	ti              int
	noPosHeader     bool
	sys             m.SysVar
	cnMask          float64
	elMask          float64
	basePos         m.PosXYZ
	exSats          m.SatVar
	wghMode         int
	noChiTest       bool
	maxDop          float64
	maxRes          float64
	gByXyz          bool
	ratioThres      float64
	noTrop          bool
	movingBase      bool
	baselineLen     float64
	filterVariant   m.FilterVariant
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options] [-p 0]                                 rover.obs          nav_file.nav (for SPP)
	%s [Options]  -p 1  -l "base_lat base_lon base_hei" rover.obs base.obs nav_file.nav (for DGPS)
	%s [Options] [-p 2] -l "base_lat base_lon base_hei" rover.obs base.obs nav_file.nav (for RTK)

[Options]
`, filepath.Base(os.Args[0]), filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	sOpt := m.NewSppOpt()
	cfgDefault := m.NewConfig()
	flag.Var(&a.sys, "sys", "Satellite systems to use for calculation. G(GPS), J(QZSS), E(Galileo), R(Glonass), C(Beidou). Comma-separated without spaces. Default: G,J,E,R,C")
	flag.Var(&a.mode, "p", "Calculation mode. 0(SPP), 1(DGPS), 2(RTK)")
	var ts_, te_ m.TimeStr
	flag.TextVar(&ts_, "ts", m.NewTimeStr(time.Time{}), "Start epoch specification. Enclose in quotes like -ts \"2023/01/01 00:00:00.000\"")
	flag.TextVar(&te_, "te", m.NewTimeStr(time.Now().UTC()), "End epoch specification. Enclose in quotes like -te \"2023/01/02 00:00:00.000\". This epoch is also included.")
	flag.IntVar(&a.ti, "ti", 0, "Calculation interval. Calculation is executed when the epoch's second value is divisible by the specified value. Integer only. Omit or set to 0 to calculate all epochs.")
	flag.StringVar(&a.posFn, "o", "", "Output pos file path. If not specified, output to stdout.")
	flag.BoolVar(&a.noPosHeader, "nh", false, "Do not output header section of pos file.")
	flag.Var(&a.exSats, "ex", "List of satellites to exclude. Comma-separated satellite names without spaces like C02,E14.")
	flag.Float64Var(&a.cnMask, "cn", sOpt.CnMask, "Signal strength mask [dB]. Set to 0 for no mask.")
	flag.Float64Var(&a.elMask, "m", cfgDefault.ElMin, "Elevation mask [deg]. Set to 0 for no mask.")
	flag.IntVar(&a.wghMode, "w", sOpt.WghMode, "Weighting method for SPP calculation. 0(no weighting),1(RTKLIB method),2(RTK core method),3(GPS practical programming book method)")
	flag.BoolVar(&a.gByXyz, "gx", sOpt.GByXyz, "Construct design matrix in XYZ coordinate system. Usually ENU coordinate system. Results are the same. For development to compare with RTKLIB XYZ system.")
	flag.Float64Var(&a.maxDop, "d", sOpt.MaxDop, "Skip calculation and output no results when GDOP exceeds this value. Set to 0 to always calculate regardless of GDOP.")
	flag.BoolVar(&a.noChiTest, "nx2", sOpt.NoChiTest, "Specify to not perform solution evaluation (exclusion) by chi-square test. Default is to perform.")
	flag.Float64Var(&a.maxRes, "mr", sOpt.MaxRes, "Threshold residual for excluding satellite with maximum residual in SPP calculation. Set to 0 to not exclude. Default is no exclusion.")
	var basePosLLH m.PosLLH
	flag.Var(&basePosLLH, "l", "Base station latitude/longitude/ellipsoidal height. Enclose in quotes like -l \"35.73101206 139.7396917 80.33\"")
	flag.Float64Var(&a.ratioThres, "v", cfgDefault.ThresAR, "Ratio test threshold for FIX determination. Set to 0 to output float solution without AR.")
	var dbg int
	flag.IntVar(&dbg, "x", 0, "Debug information display. Specify level value. 0(OFF), 1(display), 2(detailed display), 3(more detailed), 4(most detailed)")
	flag.BoolVar(&a.noTrop, "ntr", false, "Do not perform tropospheric correction")
	flag.BoolVar(&a.movingBase, "mb", false, "Treat the base station as moving and apply the baseline-length pseudo-measurement")
	flag.Float64Var(&a.baselineLen, "bl", 0, "Nominal baseline length [m] for -mb, ignored otherwise")
	var filterName string
	flag.StringVar(&filterName, "flt", "ekf", "Measurement update variant. ekf, akf, ukf, or nls")
	flag.Parse()
	switch flag.NArg() {
	case 2:
		a.obsFn = flag.Arg(0)
		a.navFn = flag.Arg(1)
		a.mode = m.SPP
	case 3:
		a.obsFn = flag.Arg(0)
		a.baseObsFn = flag.Arg(1)
		a.navFn = flag.Arg(2)
		pSet := false
		flag.Visit(func(f *flag.Flag) { pSet = pSet || f.Name == "p" })
		if !pSet {
			a.mode = m.RTK
		}
		if basePosLLH.Lat == 0 {
			return a, fmt.Errorf("the base station position must be specified! (-l option)")
		}
	default:
		return a, fmt.Errorf("too less or many arguments")
	}
	a.ts = time.Time(ts_)
	a.te = time.Time(te_)
	a.basePos = basePosLLH.ToXYZ()
	a.filterVariant = parseFilterVariant(filterName)
	m.DBG_ = dbg
	if m.DBG_ >= 1 && a.mode > 0 {
		m.PrintA("rpos(llh, xyz): %14.9f %14.9f %10.4f, %10.4f %10.4f %10.4f\n", basePosLLH.Lat, basePosLLH.Lon, basePosLLH.Hei, a.basePos.X, a.basePos.Y, a.basePos.Z)
	}
	return
}

func parseFilterVariant(s string) m.FilterVariant {
	switch s {
	case "akf":
		return m.FilterAKF
	case "ukf":
		return m.FilterUKF
	case "nls":
		return m.FilterNLS
	default:
		return m.FilterEKF
	}
}

// Read observation file
func readObs(fn string) (*m.Obs, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	obs, err := m.ReadObs(f)
	if err != nil {
		return nil, err
	}
	return obs, nil
}

// Print pos file header
func printPosHeader(pos io.Writer, cmd string, mode m.Mode, obsFn, navFn, baseObsFn string, basePos m.PosXYZ, obs *m.Obs) {
	fmt.Fprintf(pos, "%% program   : %s\n", filepath.Base(cmd))
	fmt.Fprintf(pos, "%% inp file  : %s\n", obsFn)
	fmt.Fprintf(pos, "%% inp file  : %s\n", navFn)
	switch mode {
	case m.SPP:
		fmt.Fprintf(pos, "%%  GPST                 latitude(deg) longitude(deg)  height(m)   Q  ns      clk_bias(m)        isb1(m)        isb2(m)        isb3(m)       gdop       pdop       hdop       vdop\n")
	case m.DGPS:
		fmt.Fprintf(pos, "%% inp file  : %s\n", baseObsFn)
		llh := basePos.ToLLH()
		fmt.Fprintf(pos, "%% ref pos   : %.8f %.8f %.3f\n", m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei)
		fmt.Fprintf(pos, "%%  GPST                 latitude(deg) longitude(deg)  height(m)   Q  ns      clk_bias(m)        isb1(m)        isb2(m)        isb3(m)       gdop       pdop     age(s)       vdop\n")
	case m.RTK:
		fmt.Fprintf(pos, "%% inp file  : %s\n", baseObsFn)
		llh := basePos.ToLLH()
		fmt.Fprintf(pos, "%% ref pos   : %.8f %.8f %.3f\n", m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei)
		fmt.Fprintf(pos, "%%  GPST                 latitude(deg) longitude(deg)  height(m)   Q  ns      clk_bias(m)        isb1(m)        isb2(m)        isb3(m)       gdop       pdop     age(s)      ratio\n")
	}
}

// Output POS file
func printPos(mode m.Mode, rcvt m.GTime, uspp, rspp *m.SppSol, result *m.Result, pos io.Writer) {
	gdop := uspp.Dop["gdop"]
	pdop := uspp.Dop["pdop"]
	hdop := uspp.Dop["hdop"]
	vdop := uspp.Dop["vdop"]
	ns := len(uspp.Sats)
	llh := uspp.Pos.ToLLH()
	rcvt2 := m.GTime{Week: rcvt.Week, Sec: math.Round(rcvt.Sec*1000) / 1000}
	rcvtStr := rcvt2.ToTime().UTC().Format("2006/01/02 15:04:05.000")

	switch mode {
	case m.SPP:
		Q := 5
		fmt.Fprintf(pos, "%s %13.9f %14.9f %10.4f %3d %3d %16.4f %14.4f %14.4f %14.4f %10.3f %10.3f %10.3f %10.3f\n", rcvtStr, m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei, Q, ns, uspp.Clk[0], uspp.Clk[1], uspp.Clk[2], uspp.Clk[3], gdop, pdop, hdop, vdop)
	case m.DGPS:
		Q := 4
		age := uspp.Time.Sub(rspp.Time)
		fmt.Fprintf(pos, "%s %13.9f %14.9f %10.4f %3d %3d %16.4f %14.4f %14.4f %14.4f %10.3f %10.3f %10.7f %10.3f\n", rcvtStr, m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei, Q, ns, uspp.Clk[0], uspp.Clk[1], uspp.Clk[2], uspp.Clk[3], gdop, pdop, age, vdop)
	case m.RTK:
		Q := 0
		ratio := 0.0
		age := 0.0
		if result != nil {
			ns = result.NumSats
			ratio = result.Ratio
			age = result.AgeOfDiffs
			llh = result.Pos.ToLLH()
			switch result.Status {
			case m.StatusFix:
				Q = 1
			case m.StatusFloat:
				Q = 2
			case m.StatusDgps:
				Q = 4
			default:
				Q = 0
			}
		}
		fmt.Fprintf(pos, "%s %13.9f %14.9f %10.4f %3d %3d %16.4f %14.4f %14.4f %14.4f %10.3f %10.3f %10.7f %10.3f\n", rcvtStr, m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei, Q, ns, uspp.Clk[0], uspp.Clk[1], uspp.Clk[2], uspp.Clk[3], gdop, pdop, age, ratio)
	}
}

func setSppOpt(args *cmdOpt) *m.SppOpt {
	opt := m.NewSppOpt()
	opt.Sys = args.sys
	opt.ExSats = args.exSats
	opt.CnMask = args.cnMask
	opt.ElMask = args.elMask
	opt.WghMode = args.wghMode
	opt.NoChiTest = args.noChiTest
	opt.MaxDop = args.maxDop
	opt.MaxRes = args.maxRes
	opt.BasePos = &args.basePos
	opt.DgpsCorr = nil
	opt.GByXyz = args.gByXyz
	return opt
}
