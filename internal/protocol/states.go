package protocol

// Таблицы кодов состояний из протокола Aurora rel 4.7.

// TransmissionStates — состояние передачи (байт 0 ответа)
var TransmissionStates = map[byte]string{
	0:  "Everything is OK",
	51: "Command is not implemented",
	52: "Variable does not exist",
	53: "Variable value is out of range",
	54: "EEprom not accessible",
	55: "Not Toggled Service Mode",
	56: "Can not send the command to internal micro",
	57: "Command not Executed",
	58: "The variable is not available, retry",
}

// GlobalStates — глобальное состояние инвертора (байт 1 ответа)
var GlobalStates = map[byte]string{
	0:   "Sending Parameters",
	1:   "Wait Sun/Grid",
	2:   "Checking Grid",
	3:   "Measuring Riso",
	4:   "DcDc Start",
	5:   "Inverter Start",
	6:   "Run",
	7:   "Recovery",
	8:   "Pause",
	9:   "Ground Fault",
	10:  "OTH Fault",
	11:  "Address Setting",
	12:  "Self Test",
	13:  "Self Test Fail",
	14:  "Sensor Test + Meas.Riso",
	15:  "Leak Fault",
	16:  "Waiting for manual reset",
	22:  "Sending Wind Table",
	23:  "Failed Sending table",
	24:  "UTH Fault",
	25:  "Remote OFF",
	26:  "Interlock Fail",
	27:  "Executing Autotest",
	30:  "Waiting Sun",
	31:  "Temperature Fault",
	32:  "Fan Stacked",
	33:  "Int. Com. Fault",
	34:  "Slave Insertion",
	35:  "DC Switch Open",
	36:  "TRAS Switch Open",
	37:  "MASTER Exclusion",
	38:  "Auto Exclusion",
	98:  "Erasing Internal EEprom",
	99:  "Erasing External EEprom",
	100: "Counting EEprom",
	101: "Freeze",
}

// InverterStates — состояние инверторного модуля (команда 50, байт данных 0)
var InverterStates = map[byte]string{
	0:  "Stand By",
	1:  "Checking Grid",
	2:  "Run",
	3:  "Bulk OV",
	4:  "Out OC",
	5:  "IGBT Sat",
	6:  "Bulk UV",
	7:  "Degauss Error",
	8:  "No Parameters",
	9:  "Bulk Low",
	10: "Grid OV",
	11: "Communication Error",
	12: "Degaussing",
	13: "Starting",
	14: "Bulk Cap Fail",
	15: "Leak Fail",
	16: "DcDc Fail",
	17: "Ileak Sensor Fail",
	30: "Internal Error",
	40: "Forbidden State",
	41: "Input UC",
	42: "Zero Power",
	43: "Grid Not Present",
	44: "Waiting Start",
	45: "MPPT",
	46: "Grid Fail",
	47: "Input OC",
}

// DcDcStates — состояние каналов DC/DC (команда 50, байты данных 1 и 2)
var DcDcStates = map[byte]string{
	0:  "DcDc OFF",
	1:  "Ramp Start",
	2:  "MPPT",
	4:  "Input OC",
	5:  "Input UV",
	6:  "Input OV",
	7:  "Input Low",
	8:  "No Parameters",
	9:  "Bulk OV",
	10: "Communication Error",
	11: "Ramp Fail",
	12: "Internal Error",
	13: "Input mode Error",
	14: "Ground Fault",
	15: "Inverter Fail",
	16: "DcDc IGBT Sat",
	17: "DcDc ILEAK Fail",
	18: "DcDc Grid Fail",
	19: "DcDc Comm Error",
}

// Alarm — описание и код тревоги на дисплее
type Alarm struct {
	Description string
	Code        string
}

// AlarmStates — состояние тревоги (команда 50, байт данных 3; команда 86)
var AlarmStates = map[byte]Alarm{
	0:  {"No Alarm", ""},
	1:  {"Sun Low", "W001"},
	2:  {"Input OC", "E001"},
	3:  {"Input UV", "W002"},
	4:  {"Input OV", "E002"},
	5:  {"Sun Low", "W001"},
	6:  {"No Parameters", "E003"},
	7:  {"Bulk OV", "E004"},
	8:  {"Comm.Error", "E005"},
	9:  {"Output OC", "E006"},
	10: {"IGBT Sat", "E007"},
	11: {"Bulk UV", "W011"},
	12: {"Internal error", "E009"},
	13: {"Grid Fail", "W003"},
	14: {"Bulk Low", "E010"},
	15: {"Ramp Fail", "E011"},
	16: {"Dc/Dc Fail", "E012"},
	17: {"Wrong Mode", "E013"},
	18: {"Ground Fault", "---"},
	19: {"Over Temp.", "E014"},
	20: {"Bulk Cap Fail", "E015"},
	21: {"Inverter Fail", "E016"},
	22: {"Start Timeout", "E017"},
	23: {"Ground Fault", "E018"},
	24: {"Degauss error", "---"},
	25: {"Ileak sens.fail", "E019"},
	26: {"DcDc Fail", "E012"},
	27: {"Self Test Error 1", "E020"},
	28: {"Self Test Error 2", "E021"},
	29: {"Self Test Error 3", "E019"},
	30: {"Self Test Error 4", "E022"},
	31: {"DC inj error", "E023"},
	32: {"Grid OV", "W004"},
	33: {"Grid UV", "W005"},
	34: {"Grid OF", "W006"},
	35: {"Grid UF", "W007"},
	36: {"Z grid Hi", "W008"},
	37: {"Internal error", "E024"},
	38: {"Riso Low", "E025"},
	39: {"Vref Error", "E026"},
	40: {"Error Meas V", "E027"},
	41: {"Error Meas F", "E028"},
	42: {"Error Meas Z", "E029"},
	43: {"Error Meas Ileak", "E030"},
	44: {"Error Read V", "E031"},
	45: {"Error Read I", "E032"},
	46: {"Table fail", "W009"},
	47: {"Fan Fail", "W010"},
	48: {"UTH", "E033"},
	49: {"Interlock fail", "E034"},
	50: {"Remote Off", "E035"},
	51: {"Vout Avg error", "E036"},
	52: {"Battery low", "W012"},
	53: {"Clk fail", "W013"},
	54: {"Input UC", "E037"},
	55: {"Zero Power", "W014"},
	56: {"Fan Stuck", "E038"},
	57: {"DC Switch Open", "E039"},
	58: {"Tras Switch Open", "E040"},
	59: {"AC Switch Open", "E041"},
	60: {"Bulk UV", "E042"},
	61: {"Autoexclusion", "E043"},
	62: {"Grid df/dt", "W015"},
	63: {"Den switch Open", "W016"},
	64: {"Jbox fail", "W017"},
}

// DescribeGlobalState возвращает текстовое описание глобального состояния
func DescribeGlobalState(code byte) string {
	if desc, ok := GlobalStates[code]; ok {
		return desc
	}
	return "Unknown"
}

// DescribeInverterState возвращает описание состояния инверторного модуля
func DescribeInverterState(code byte) string {
	if desc, ok := InverterStates[code]; ok {
		return desc
	}
	return "Unknown"
}

// DescribeAlarm возвращает описание и код тревоги
func DescribeAlarm(code byte) Alarm {
	if a, ok := AlarmStates[code]; ok {
		return a
	}
	return Alarm{Description: "Unknown"}
}
