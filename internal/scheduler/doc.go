// Package scheduler turns wall-clock boundaries into named events.
//
// Once per tick the current time is decomposed and compared with the previous
// tick. A minute change dispatches "minute", the wall-clock "HH:MM" and the
// hourly ":MM" mark; hour, day, month and year changes dispatch their own
// events. Each event first runs the built-in handlers registered with On and
// then the handler the schedule table maps it to.
package scheduler
