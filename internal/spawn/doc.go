// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package spawn implements the spawn protocol: a client sends the arguments
// and the executable of a program over a stream connection and the program
// is started as new user task.
//
// All integers are 32 bit signed in native byte order:
//
//	argc
//	argc times: length, length bytes of the argument
//	length of the executable, executable bytes
//
// Once the task exited, the server answers with a single exit code line
// and closes the connection.
package spawn
