// Package memory describes the physical memory a texture group tracks.
//
// It defines the two collaborators the coherency tracker consumes:
//   - [RegionHandle]: write tracking for one contiguous physical range, with a
//     dirty flag, an unmapped flag, re-arm, dirty events and one-shot
//     access actions.
//   - [Provider]: untracked reads of a [MultiRange] and creation of handles.
//
// [PhysicalMemory] is a reference provider that tracks writes in software.
// Guest accesses go through [PhysicalMemory.Read] and [PhysicalMemory.Write];
// writes flip the dirty flag of every overlapping handle and reads and writes
// run pending access actions first, blocking until they return. It is meant
// for tests, tools and embedders that do not have a page-fault based tracker.
package memory
