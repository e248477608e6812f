/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ntp

// LeapIndicator is the two-bit field announcing an imminent leap second.
type LeapIndicator uint8

// Supported leap indicator values, per RFC 5905 Figure 9.
const (
	NoWarning LeapIndicator = iota
	Leap61
	Leap59
	Unknown
)

// String renders the leap indicator for logs and status output.
func (l LeapIndicator) String() string {
	switch l {
	case NoWarning:
		return "no-warning"
	case Leap61:
		return "leap61"
	case Leap59:
		return "leap59"
	default:
		return "unknown"
	}
}

// IsSynchronized reports whether the indicator claims the peer is synchronized.
func (l LeapIndicator) IsSynchronized() bool {
	return l != Unknown
}
