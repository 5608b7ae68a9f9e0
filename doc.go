// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.22
//

// Package rtkcore implements the estimator core of a single-frequency
// Real-Time Kinematic GNSS positioning engine: double-differenced
// pseudorange/carrier-phase observation modeling, a pluggable EKF/AKF/UKF/
// NLS measurement update, and LAMBDA-based integer ambiguity resolution.
//
// Session is the entry point for driving the estimator epoch by epoch;
// CalcSpp and the readers in rinex.go supply the external inputs (single
// point position seed, observation and navigation data) that the core
// itself does not compute.
package rtkcore
