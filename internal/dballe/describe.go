package dballe

import (
	"fmt"
	"strconv"
)

// Describer produces human readable descriptions of the filter dimensions.
type Describer interface {
	DescribeLevel(Level) string
	DescribeTrange(Trange) string
	DescribeVar(code string) string
}

// Descriptions is the built-in Describer based on WMO code tables 4.5 and 4.10.
type Descriptions struct{}

// DescribeLevel implements Describer.
func (Descriptions) DescribeLevel(l Level) string { return DescribeLevel(l) }

// DescribeTrange implements Describer.
func (Descriptions) DescribeTrange(t Trange) string { return DescribeTrange(t) }

// DescribeVar implements Describer.
func (Descriptions) DescribeVar(code string) string { return DescribeVar(code) }

// DescribeLevel describes a level or a layer.
func DescribeLevel(l Level) string {
	if l.Ltype2 == MissingInt {
		return describeSingleLevel(l.Ltype1, l.L1)
	}
	return fmt.Sprintf("Layer from [%s] to [%s]",
		describeSingleLevel(l.Ltype1, l.L1), describeSingleLevel(l.Ltype2, l.L2))
}

func describeSingleLevel(ltype, l int) string {
	switch ltype {
	case MissingInt:
		return "-"
	case 1:
		return "Ground or water surface"
	case 2:
		return "Cloud base level"
	case 3:
		return "Level of cloud tops"
	case 4:
		return "Level of 0°C isotherm"
	case 8:
		return "Nominal top of the atmosphere"
	case 101:
		return "Mean sea level"
	}
	if l == MissingInt {
		return strconv.Itoa(ltype) + " -"
	}
	switch ltype {
	case 100:
		return fmt.Sprintf("Isobaric surface %.2fhPa", float64(l)/100)
	case 102:
		return fmt.Sprintf("%.3fm above mean sea level", float64(l)/1000)
	case 103:
		return fmt.Sprintf("%.3fm above ground", float64(l)/1000)
	case 105:
		return fmt.Sprintf("Hybrid level %d", l)
	case 106:
		return fmt.Sprintf("%.3fm below land surface", float64(l)/1000)
	case 160:
		return fmt.Sprintf("%.3fm below sea level", float64(l)/1000)
	}
	return fmt.Sprintf("%d %d", ltype, l)
}

// DescribeTrange describes a time range.
func DescribeTrange(t Trange) string {
	if t.Pind == MissingInt {
		return "-"
	}
	switch t.Pind {
	case 254:
		if t.P1 == 0 && t.P2 == 0 {
			return "Analysis or observation, istantaneous value"
		}
		if t.P2 == 0 {
			return fmt.Sprintf("Forecast at t+%s, instantaneous value", describeSeconds(t.P1))
		}
	case 0, 1, 2, 3, 4, 5, 6, 7, 9, 200, 201, 202, 203, 204, 205:
		if t.P1 != MissingInt && t.P2 != MissingInt {
			return fmt.Sprintf("%s over %s at %s", statisticName(t.Pind), describeSeconds(t.P2), forecastOffset(t.P1))
		}
	}
	return trangeFallback(t)
}

func trangeFallback(t Trange) string {
	v := t.Tuple()
	parts := make([]any, len(v))
	for i, x := range v {
		if x == MissingInt {
			parts[i] = "-"
		} else {
			parts[i] = x
		}
	}
	return fmt.Sprintf("%v %v %v", parts...)
}

func statisticName(pind int) string {
	switch pind {
	case 0:
		return "Average"
	case 1:
		return "Accumulation"
	case 2:
		return "Maximum"
	case 3:
		return "Minimum"
	case 4:
		return "Difference (end minus beginning)"
	case 5:
		return "Root Mean Square"
	case 6:
		return "Standard Deviation"
	case 7:
		return "Covariance"
	case 9:
		return "Ratio"
	case 200:
		return "Vectorial mean"
	case 201:
		return "Mode"
	case 202:
		return "Standard deviation vectorial mean"
	case 203:
		return "Vectorial maximum"
	case 204:
		return "Vectorial minimum"
	case 205:
		return "Product with a valid time ranging"
	}
	return strconv.Itoa(pind)
}

func forecastOffset(p1 int) string {
	switch {
	case p1 == 0:
		return "reference time"
	case p1 < 0:
		return "reference time-" + describeSeconds(-p1)
	default:
		return "reference time+" + describeSeconds(p1)
	}
}

func describeSeconds(s int) string {
	switch {
	case s == MissingInt:
		return "-"
	case s == 0:
		return "0s"
	case s%86400 == 0:
		return strconv.Itoa(s/86400) + "d"
	case s%3600 == 0:
		return strconv.Itoa(s/3600) + "h"
	case s%60 == 0:
		return strconv.Itoa(s/60) + "m"
	default:
		return strconv.Itoa(s) + "s"
	}
}
